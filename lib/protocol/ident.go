package protocol

import (
	"fmt"
	"strings"

	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// Identification formats a local identification string per RFC 4253
// section 4.2, without the CRLF terminator:
//
//	SSH-2.0-<software>[ <comments>]
func Identification(software, comments string) string {
	ident := VersionPrefix + software
	if comments != "" {
		ident += " " + comments
	}
	return ident
}

// IdentificationBytes returns the on-wire form of an identification string,
// CRLF terminated.
func IdentificationBytes(ident string) []byte {
	return []byte(ident + "\r\n")
}

// ReadIdentification scans the buffer for the remote identification line.
//
// Lines are CRLF terminated; a CR not followed by LF is a protocol error.
// Each line is limited to MaxIdentificationLine bytes. A server accepts the
// first line as the client's identification. A client skips lines until one
// begins with "SSH-" (pre-banner text is allowed from the server), scanning
// at most MaxIdentificationScan bytes.
//
// When a complete identification has been read it is returned and the
// consumed bytes are left behind the read position. When more data is
// needed, the read position is restored and ("", nil) is returned.
func ReadIdentification(buf *sshbuf.Buffer, server bool) (string, error) {
	for {
		rpos := buf.Rpos()
		line, complete, err := readLine(buf)
		if err != nil {
			return "", err
		}
		if !complete {
			buf.SetRpos(rpos)
			return "", nil
		}
		if server || strings.HasPrefix(line, "SSH-") {
			return line, nil
		}
		if buf.Rpos() > MaxIdentificationScan {
			return "", util.NewSshErrorWithCause(util.DisconnectProtocolError,
				"too many pre-banner header lines", util.ErrProtocol)
		}
	}
}

// readLine consumes one CRLF (or bare LF) terminated line. Returns
// complete=false when the buffer ends mid-line.
func readLine(buf *sshbuf.Buffer) (string, bool, error) {
	line := make([]byte, 0, 64)
	needLF := false
	for {
		if buf.Available() == 0 {
			return "", false, nil
		}
		b, err := buf.GetByte()
		if err != nil {
			return "", false, err
		}
		if b == '\r' {
			needLF = true
			continue
		}
		if b == '\n' {
			return string(line), true, nil
		}
		if needLF {
			return "", false, util.NewSshErrorWithCause(util.DisconnectProtocolError,
				"bad identification line ending", util.ErrProtocol)
		}
		if len(line) >= MaxIdentificationLine {
			return "", false, util.NewSshErrorWithCause(util.DisconnectProtocolError,
				fmt.Sprintf("identification line longer than %d bytes", MaxIdentificationLine),
				util.ErrProtocol)
		}
		line = append(line, b)
	}
}
