// Package client is a ShareIT protocol client. A Client owns one
// connection and issues one command at a time.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"shareit/internal/protocol"
)

// ErrUnexpectedReply is returned when the server answers with something
// that does not fit the command's reply shape.
var ErrUnexpectedReply = errors.New("unexpected reply")

// StatusError is an ERROR reply from the server.
type StatusError struct {
	Command protocol.Command
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server error: %s", e.Command, e.Message)
}

// Client speaks the ShareIT protocol over a single connection. It is not
// safe for concurrent use.
type Client struct {
	conn net.Conn
	r    *protocol.Reader
	w    *protocol.Writer

	// username is set after a successful Login. Commands that need a login
	// are answered with a single status string when it is empty.
	username string
}

// Dial connects to a server at the TCP address addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		r:    protocol.NewReader(conn),
		w:    protocol.NewWriter(conn),
	}
}

// Close closes the connection without logging out.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Username returns the logged-in user, or "" before Login.
func (c *Client) Username() string {
	return c.username
}

// Register creates an account.
func (c *Client) Register(username, password, email string) error {
	return c.statusCommand(protocol.RegisterRequest{Username: username, Password: password, Email: email})
}

// Login authenticates the connection as username.
func (c *Client) Login(username, password string) error {
	if err := c.statusCommand(protocol.LoginRequest{Username: username, Password: password}); err != nil {
		return err
	}
	c.username = username
	return nil
}

// Upload sends size bytes from body as fileName to receiver and returns
// the new file id. The receiver "public" shares the file with every user.
func (c *Client) Upload(fileName, receiver string, size int64, body io.Reader) (string, error) {
	req := protocol.UploadRequest{Cmd: protocol.CmdUpload, FileName: fileName, FileSize: size, Receiver: receiver}
	if err := req.Encode(c.w); err != nil {
		return "", err
	}
	if size > 0 {
		if _, err := io.CopyN(c.w, body, size); err != nil {
			return "", fmt.Errorf("sending %s: %w", fileName, err)
		}
	}
	if err := c.w.Flush(); err != nil {
		return "", err
	}

	status, err := c.r.ReadUTF()
	if err != nil {
		return "", err
	}
	if status != protocol.StatusSuccess {
		return "", statusError(req.Command(), status)
	}
	return c.r.ReadUTF()
}

// Download writes the content of fileID to dst and returns the file name
// and the number of bytes written.
func (c *Client) Download(fileID string, dst io.Writer) (string, int64, error) {
	if err := c.send(protocol.DownloadRequest{FileID: fileID}); err != nil {
		return "", 0, err
	}

	status, err := c.r.ReadUTF()
	if err != nil {
		return "", 0, err
	}
	switch status {
	case protocol.StatusSuccess:
	case protocol.StatusError:
		reason, err := c.r.ReadUTF()
		if err != nil {
			return "", 0, err
		}
		return "", 0, &StatusError{Command: protocol.CmdDownload, Message: reason}
	default:
		return "", 0, statusError(protocol.CmdDownload, status)
	}

	name, err := c.r.ReadUTF()
	if err != nil {
		return "", 0, err
	}
	size, err := c.r.ReadInt64()
	if err != nil {
		return "", 0, err
	}
	if size < 0 {
		return "", 0, fmt.Errorf("%w: negative size %d", ErrUnexpectedReply, size)
	}
	n, err := io.CopyN(dst, c.r, size)
	if err != nil {
		return name, n, fmt.Errorf("receiving %s: %w", name, err)
	}
	return name, n, nil
}

// ListFiles returns the transfers visible to the logged-in user.
func (c *Client) ListFiles() ([]protocol.FileRecord, error) {
	if err := c.authedCommand(protocol.ListFilesRequest{}); err != nil {
		return nil, err
	}
	return protocol.ReadFileList(c.r)
}

// ListUsers returns every account known to the server.
func (c *Client) ListUsers() ([]protocol.UserRecord, error) {
	if err := c.authedCommand(protocol.ListUsersRequest{}); err != nil {
		return nil, err
	}
	return protocol.ReadUserList(c.r)
}

// Stats returns the logged-in user's profile summary.
func (c *Client) Stats() (protocol.StatsRecord, error) {
	if err := c.authedCommand(protocol.GetStatsRequest{}); err != nil {
		return protocol.StatsRecord{}, err
	}
	return protocol.ReadStats(c.r)
}

// Delete removes a transfer the logged-in user sent.
func (c *Client) Delete(fileID string) error {
	return c.statusCommand(protocol.DeleteFileRequest{FileID: fileID})
}

// Logout ends the session. The server closes the connection after its
// reply; Logout closes the client side as well.
func (c *Client) Logout() error {
	err := c.statusCommand(protocol.LogoutRequest{})
	c.username = ""
	return errors.Join(err, c.conn.Close())
}

// Raw sends an arbitrary request and returns the single status string the
// server answers with. Meant for commands that reply with one status line.
func (c *Client) Raw(req protocol.Request) (string, error) {
	if err := c.send(req); err != nil {
		return "", err
	}
	return c.r.ReadUTF()
}

func (c *Client) send(req protocol.Request) error {
	if err := req.Encode(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// statusCommand sends req and reads a one-line status reply.
func (c *Client) statusCommand(req protocol.Request) error {
	status, err := c.Raw(req)
	if err != nil {
		return err
	}
	if ok, _ := protocol.ParseStatus(status); !ok {
		return statusError(req.Command(), status)
	}
	return nil
}

// authedCommand sends a request whose success reply carries no status
// line. Without a login the server answers with a failure status instead,
// which is returned as an error.
func (c *Client) authedCommand(req protocol.Request) error {
	if err := c.send(req); err != nil {
		return err
	}
	if c.username != "" {
		return nil
	}
	status, err := c.r.ReadUTF()
	if err != nil {
		return err
	}
	return statusError(req.Command(), status)
}

func statusError(cmd protocol.Command, status string) error {
	ok, msg := protocol.ParseStatus(status)
	if ok {
		return fmt.Errorf("%w to %s: %q", ErrUnexpectedReply, cmd, status)
	}
	return &StatusError{Command: cmd, Message: msg}
}
