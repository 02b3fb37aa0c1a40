package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"shareit/internal/protocol"
	"shareit/internal/shareit"
)

// deadlineConn arms a fresh deadline before every read and write, so a
// timeout bounds each chunk rather than a whole transfer.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

// session is the per-connection state machine. It starts unauthenticated,
// becomes authenticated on a successful LOGIN and ends on LOGOUT,
// disconnect or any connection error. Only connection errors end it;
// every service error becomes a reply.
type session struct {
	id      string
	conn    *deadlineConn
	r       *protocol.Reader
	w       *protocol.Writer
	service *shareit.Service
	logger  shareit.Logger
	opts    Options

	// username is the authenticated user, empty before LOGIN.
	username string
}

func newSession(id string, conn net.Conn, service *shareit.Service, logger shareit.Logger, opts Options) *session {
	dc := &deadlineConn{Conn: conn, writeTimeout: opts.IOTimeout}
	return &session{
		id:      id,
		conn:    dc,
		r:       protocol.NewReader(dc),
		w:       protocol.NewWriter(dc),
		service: service,
		logger:  logger,
		opts:    opts,
	}
}

// run serves commands until the session ends, then releases the user's
// online binding.
func (s *session) run(ctx context.Context) {
	defer s.cleanup()

	s.logger.Debug("client connected", "session", s.id, "remote", remoteAddr(s.conn))

	for {
		s.conn.readTimeout = s.opts.IdleTimeout
		req, err := protocol.ReadRequest(s.r)
		if err != nil {
			s.logEnd("reading command", err)
			return
		}
		s.conn.readTimeout = s.opts.IOTimeout

		keep, err := s.dispatch(ctx, req)
		if err == nil {
			err = s.w.Flush()
		}
		if err != nil {
			s.logEnd(fmt.Sprintf("handling %s", req.Command()), err)
			return
		}
		if !keep {
			return
		}
	}
}

// dispatch handles one request. It returns false when the session should
// end after the reply is flushed. A non-nil error means the connection is
// no longer usable.
func (s *session) dispatch(ctx context.Context, req protocol.Request) (bool, error) {
	if req.Command().RequiresAuth() && s.username == "" {
		if up, ok := req.(protocol.UploadRequest); ok && up.FileSize > 0 {
			if _, err := io.CopyN(io.Discard, s.r, up.FileSize); err != nil {
				return false, fmt.Errorf("draining upload body: %w", err)
			}
		}
		return true, s.w.WriteUTF(protocol.Failure(protocol.MsgNotAuthenticated))
	}

	switch req := req.(type) {
	case protocol.RegisterRequest:
		return true, s.register(req)
	case protocol.LoginRequest:
		return true, s.login(req)
	case protocol.UploadRequest:
		return true, s.upload(ctx, req)
	case protocol.DownloadRequest:
		return true, s.download(ctx, req)
	case protocol.ListFilesRequest:
		return true, s.listFiles()
	case protocol.ListUsersRequest:
		return true, s.listUsers()
	case protocol.GetStatsRequest:
		return true, s.stats()
	case protocol.DeleteFileRequest:
		return true, s.deleteFile(ctx, req)
	case protocol.LogoutRequest:
		return false, s.logout()
	default:
		s.logger.Debug("unknown command", "session", s.id, "command", string(req.Command()))
		return true, s.w.WriteUTF(protocol.Failure(protocol.MsgUnknownCommand))
	}
}

func (s *session) register(req protocol.RegisterRequest) error {
	err := s.service.Accounts().Register(req.Username, req.Password, req.Email)
	switch {
	case err == nil:
		return s.w.WriteUTF(protocol.Success(protocol.MsgRegistered))
	case errors.Is(err, shareit.ErrAlreadyExists):
		return s.w.WriteUTF(protocol.Failure(protocol.MsgUsernameTaken))
	default:
		s.logger.Warn("registration failed", "session", s.id, "username", req.Username, "error", err)
		return s.w.WriteUTF(protocol.Failure(protocol.MsgRegistrationFailed))
	}
}

func (s *session) login(req protocol.LoginRequest) error {
	_, err := s.service.Accounts().Authenticate(req.Username, req.Password, s.id)
	switch {
	case err == nil:
	case errors.Is(err, shareit.ErrInvalidCredentials):
		s.logger.Info("login rejected", "session", s.id, "username", req.Username)
		return s.w.WriteUTF(protocol.Failure(protocol.MsgInvalidCredentials))
	default:
		s.logger.Warn("login failed", "session", s.id, "username", req.Username, "error", err)
		return s.w.WriteUTF(protocol.Failure(protocol.MsgLoginFailed))
	}

	if prev := s.username; prev != "" && prev != req.Username {
		s.service.Accounts().Release(prev, s.id)
	}
	s.username = req.Username
	s.logger.Info("user logged in", "session", s.id, "username", s.username)
	return s.w.WriteUTF(protocol.Success(protocol.MsgLoggedIn))
}

func (s *session) upload(ctx context.Context, req protocol.UploadRequest) error {
	t, err := s.service.Upload(ctx, shareit.UploadRequest{
		FileName: req.FileName,
		FileSize: req.FileSize,
		Sender:   s.username,
		Receiver: req.Receiver,
	}, s.r)
	if err != nil {
		if errors.Is(err, shareit.ErrShortBody) {
			return fmt.Errorf("receiving %q: %w", req.FileName, err)
		}
		msg := protocol.MsgUploadFailed
		if errors.Is(err, shareit.ErrQuotaExceeded) {
			msg = protocol.MsgStorageExceeded
		}
		s.logger.Warn("upload rejected", "session", s.id, "username", s.username, "file_name", req.FileName, "error", err)
		return s.w.WriteUTF(protocol.Failure(msg))
	}

	if err := s.w.WriteUTF(protocol.StatusSuccess); err != nil {
		return err
	}
	return s.w.WriteUTF(t.FileID)
}

func (s *session) download(ctx context.Context, req protocol.DownloadRequest) error {
	d, err := s.service.OpenDownload(ctx, req.FileID, s.username)
	if err != nil {
		var reason string
		switch {
		case errors.Is(err, shareit.ErrContentMissing):
			reason = protocol.MsgFileMissing
		case errors.Is(err, shareit.ErrNotFound):
			reason = protocol.MsgFileNotFound
		case errors.Is(err, shareit.ErrAccessDenied):
			reason = protocol.MsgAccessDenied
		default:
			reason = protocol.MsgDownloadFailed
		}
		s.logger.Info("download refused", "session", s.id, "username", s.username, "file_id", req.FileID, "error", err)
		if err := s.w.WriteUTF(protocol.StatusError); err != nil {
			return err
		}
		return s.w.WriteUTF(reason)
	}
	defer d.Content.Close()

	if err := s.w.WriteUTF(protocol.StatusSuccess); err != nil {
		return err
	}
	if err := s.w.WriteUTF(d.Transfer.FileName); err != nil {
		return err
	}
	if err := s.w.WriteInt64(d.Size); err != nil {
		return err
	}
	// Once the header is out the client expects exactly d.Size bytes; any
	// failure from here on must end the connection.
	if _, err := io.CopyN(s.w, d.Content, d.Size); err != nil {
		return fmt.Errorf("streaming %s: %w", req.FileID, err)
	}
	return nil
}

func (s *session) listFiles() error {
	transfers := s.service.ListFiles(s.username)
	records := make([]protocol.FileRecord, 0, len(transfers))
	for _, t := range transfers {
		records = append(records, protocol.FileRecord{
			FileID:    t.FileID,
			FileName:  t.FileName,
			Sender:    t.Sender,
			Receiver:  t.Receiver,
			FileSize:  t.FileSize,
			FileType:  t.FileType,
			Timestamp: protocol.FormatTimestamp(t.CreatedAt),
		})
	}
	return protocol.WriteFileList(s.w, records)
}

func (s *session) listUsers() error {
	users := s.service.ListUsers()
	records := make([]protocol.UserRecord, 0, len(users))
	for _, u := range users {
		records = append(records, protocol.UserRecord{
			Username:     u.Username,
			Email:        u.Email,
			Online:       u.Online,
			StorageUsed:  u.StorageUsed,
			StorageLimit: u.StorageLimit,
		})
	}
	return protocol.WriteUserList(s.w, records)
}

func (s *session) stats() error {
	st, err := s.service.Stats(s.username)
	if err != nil {
		// The account cannot disappear while logged in; there is no error
		// reply for GET_STATS.
		return fmt.Errorf("stats for %s: %w", s.username, err)
	}
	return protocol.WriteStats(s.w, protocol.StatsRecord{
		Username:     st.User.Username,
		Email:        st.User.Email,
		StorageUsed:  st.User.StorageUsed,
		StorageLimit: st.User.StorageLimit,
		OwnedFiles:   int32(st.OwnedFiles),
		OnlineUsers:  int32(st.OnlineUsers),
	})
}

func (s *session) deleteFile(ctx context.Context, req protocol.DeleteFileRequest) error {
	if _, err := s.service.Delete(ctx, req.FileID, s.username); err != nil {
		s.logger.Info("delete refused", "session", s.id, "username", s.username, "file_id", req.FileID, "error", err)
		return s.w.WriteUTF(protocol.Failure(protocol.MsgDeleteDenied))
	}
	return s.w.WriteUTF(protocol.Success(protocol.MsgFileDeleted))
}

// logout releases the binding before replying, so the user is offline by
// the time the client sees the reply.
func (s *session) logout() error {
	if s.username != "" {
		s.service.Accounts().Release(s.username, s.id)
		s.logger.Info("user logged out", "session", s.id, "username", s.username)
		s.username = ""
	}
	return s.w.WriteUTF(protocol.Success(protocol.MsgLoggedOut))
}

// cleanup runs however the session ended.
func (s *session) cleanup() {
	if s.username == "" {
		return
	}
	if s.service.Accounts().Release(s.username, s.id) {
		s.logger.Debug("user offline", "session", s.id, "username", s.username)
	}
}

func (s *session) logEnd(op string, err error) {
	switch {
	case IsExpectedCloseError(err):
		s.logger.Info("client disconnected", "session", s.id, "username", s.username)
	case isTimeout(err):
		s.logger.Info("client timed out", "session", s.id, "username", s.username, "op", op)
	default:
		s.logger.Warn("session ended", "session", s.id, "username", s.username, "op", op, "error", err)
	}
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
