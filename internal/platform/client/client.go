// Package client talks to the genomic server: one TLS connection per
// request, one framed request out and one framed response back.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/genomic/genomic/internal/domain/patient"
	"github.com/genomic/genomic/internal/platform/protocol"
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	Addr          string
	TLS           *tls.Config
	Timeout       time.Duration
	MaxFrameBytes int
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TLS == nil {
		cfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Client{cfg: cfg}
}

// LoadTLSConfig builds the client trust configuration. An empty caFile uses
// the system roots. insecure disables verification and is meant for
// development servers with throwaway certificates.
func LoadTLSConfig(caFile, serverName string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
	}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// Do sends req and returns the decoded response. Error responses are
// returned as responses, not as errors; err is only set for transport and
// decoding failures.
func (c *Client) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return c.DoRaw(ctx, protocol.FormatRequest(req))
}

// DoRaw sends a pre-formatted request line.
func (c *Client) DoRaw(ctx context.Context, line string) (*protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	d := tls.Dialer{Config: c.cfg.TLS}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := protocol.WriteFrame(conn, line); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	raw, err := protocol.ReadFrame(conn, c.cfg.MaxFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp, err := protocol.ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// call runs req and turns an ERROR response into a *protocol.Error.
func (c *Client) call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Err
	}
	return resp, nil
}

func (c *Client) ack(ctx context.Context, req *protocol.Request) (*protocol.Ack, error) {
	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	var ack protocol.Ack
	if err := resp.Decode(&ack); err != nil {
		return nil, fmt.Errorf("decode acknowledgement: %w", err)
	}
	return &ack, nil
}

// CreatePatient registers a patient and returns the assigned id.
func (c *Client) CreatePatient(ctx context.Context, meta *patient.Metadata, fastaText string) (string, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	ack, err := c.ack(ctx, &protocol.Request{Command: protocol.CmdCreatePatient, Metadata: raw, Sequence: fastaText})
	if err != nil {
		return "", err
	}
	return ack.PatientID, nil
}

func (c *Client) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	resp, err := c.call(ctx, &protocol.Request{Command: protocol.CmdGetPatient, PatientID: id})
	if err != nil {
		return nil, err
	}
	var p patient.Patient
	if err := resp.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode patient: %w", err)
	}
	return &p, nil
}

// UpdatePatient sends the keys set in meta. An empty fastaText keeps the
// stored sequence.
func (c *Client) UpdatePatient(ctx context.Context, id string, meta *patient.Metadata, fastaText string) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = c.ack(ctx, &protocol.Request{Command: protocol.CmdUpdatePatient, PatientID: id, Metadata: raw, Sequence: fastaText})
	return err
}

func (c *Client) DeletePatient(ctx context.Context, id string) error {
	_, err := c.ack(ctx, &protocol.Request{Command: protocol.CmdDeletePatient, PatientID: id})
	return err
}

// PatientCount returns the number of ids the server has allocated.
func (c *Client) PatientCount(ctx context.Context) (int, error) {
	resp, err := c.Do(ctx, &protocol.Request{Command: protocol.CmdGetPatientCount})
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, resp.Err
	}
	if resp.Label != protocol.CountLabel {
		return 0, fmt.Errorf("unexpected count response")
	}
	return resp.Value, nil
}
