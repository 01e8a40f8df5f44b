package utils

import (
	"context"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHDialContext dials addr and performs the SSH handshake, both bounded by
// config.Timeout and ctx. The raw connection is returned alongside the client
// so callers can arm I/O deadlines on it later.
func SSHDialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, net.Conn, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, nil, err
	}

	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result)
	go func() {
		var client *ssh.Client
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err == nil {
			client = ssh.NewClient(c, chans, reqs)
		}
		select {
		case ch <- result{client, err}:
		case <-ctx.Done():
			if client != nil {
				client.Close()
			} else {
				conn.Close()
			}
		}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			conn.Close()
			return nil, nil, res.err
		}
		_ = conn.SetDeadline(time.Time{})
		return res.client, conn, nil
	case <-ctx.Done():
		return nil, nil, context.Cause(ctx)
	}
}
