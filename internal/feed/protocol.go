// Package feed streams the event journal to downstream consumers over
// QUIC. A subscriber names the sequence it wants to resume from; the
// server replays the backlog as compressed batches, then switches the
// stream to live delivery. The ETL pipeline tails this feed to mirror
// every state change.
package feed

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "veristake/1"

	// maxFrameSize is the maximum allowed frame size (16 MB).
	maxFrameSize = 16 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4
)

// Frame type bytes, the first byte of every frame payload.
const (
	frameSubscribe = 0x01 // client -> server: 8-byte big-endian resume sequence
	frameCatchup   = 0x02 // server -> client: export batch of journal backlog
	frameLive      = 0x03 // server -> client: one snappy-compressed event
)

// writeFrame writes a length-prefixed frame to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(data), maxFrameSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// readFrame reads a length-prefixed frame from the reader.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}

func encodeSubscribe(fromSeq uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = frameSubscribe
	binary.BigEndian.PutUint64(buf[1:], fromSeq)

	return buf
}

func decodeSubscribe(frame []byte) (uint64, error) {
	if len(frame) != 9 || frame[0] != frameSubscribe {
		return 0, fmt.Errorf("malformed subscribe frame")
	}

	return binary.BigEndian.Uint64(frame[1:]), nil
}

// generateCertificate creates a self-signed X.509 certificate from a
// fresh ed25519 key. The feed's transport identity is ephemeral, one
// per server process; subscribers do not authenticate the server.
func generateCertificate() (tls.Certificate, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: fmt.Sprintf("%x", publicKey[:8]),
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, publicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal private key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create TLS certificate: %w", err)
	}

	return tlsCert, nil
}
