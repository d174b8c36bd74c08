package memory

import (
	"bytes"
	"strconv"
)

const (
	setCommand = "set"
	delCommand = "del"
)

func writeSetCommand(doc *document, buf *bytes.Buffer) {
	writeRespArray(3, buf)
	writeRespSimpleString([]byte(setCommand), buf)
	writeRespKeyString([]byte(doc.key.String()), buf)
	writeRespBlob(doc.data, buf)
}

func writeDelCommand(key docKey, buf *bytes.Buffer) {
	writeRespArray(2, buf)
	writeRespSimpleString([]byte(delCommand), buf)
	writeRespKeyString([]byte(key.String()), buf)
}

func writeRespArray(segments int, buf *bytes.Buffer) {
	buf.WriteByte('*')
	buf.WriteString(strconv.Itoa(segments))
	buf.WriteString("\r\n")
}

func writeRespSimpleString(b []byte, buf *bytes.Buffer) {
	buf.WriteByte('+')
	buf.Write(b)
	buf.WriteString("\r\n")
}

func writeRespKeyString(b []byte, buf *bytes.Buffer) {
	writeRespBlob(b, buf)
}

func writeRespBlob(blob []byte, buf *bytes.Buffer) {
	buf.WriteByte('$')
	buf.WriteString(strconv.Itoa(len(blob)))
	buf.WriteString("\r\n")
	buf.Write(blob)
	buf.WriteString("\r\n")
}
