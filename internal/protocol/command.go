package protocol

import "fmt"

// Command names a request. It is sent as the first string of every request.
type Command string

const (
	CmdRegister   Command = "REGISTER"
	CmdLogin      Command = "LOGIN"
	CmdUpload     Command = "UPLOAD"
	CmdSendFile   Command = "SEND_FILE" // same payload and behavior as UPLOAD
	CmdDownload   Command = "DOWNLOAD"
	CmdListFiles  Command = "LIST_FILES"
	CmdListUsers  Command = "LIST_USERS"
	CmdGetStats   Command = "GET_STATS"
	CmdDeleteFile Command = "DELETE_FILE"
	CmdLogout     Command = "LOGOUT"
)

// Known reports whether c is one of the commands above.
func (c Command) Known() bool {
	switch c {
	case CmdRegister, CmdLogin, CmdLogout, CmdUpload, CmdSendFile, CmdDownload,
		CmdListFiles, CmdListUsers, CmdGetStats, CmdDeleteFile:
		return true
	}
	return false
}

// RequiresAuth reports whether c is only served to an authenticated session.
// Unknown commands do not; they are rejected in any state.
func (c Command) RequiresAuth() bool {
	switch c {
	case CmdUpload, CmdSendFile, CmdDownload, CmdListFiles, CmdListUsers, CmdGetStats, CmdDeleteFile:
		return true
	}
	return false
}

// Request is one decoded client request. The concrete types below are the
// complete set; UnknownRequest carries commands the server does not know.
type Request interface {
	Command() Command
	// Encode writes the command name and the request fields. It does not
	// write an upload body and does not flush.
	Encode(w *Writer) error
}

type RegisterRequest struct {
	Username string
	Password string
	Email    string
}

type LoginRequest struct {
	Username string
	Password string
}

// UploadRequest announces FileSize raw bytes that follow the fields.
// Cmd is CmdUpload or CmdSendFile.
type UploadRequest struct {
	Cmd      Command
	FileName string
	FileSize int64
	Receiver string
}

type DownloadRequest struct {
	FileID string
}

type ListFilesRequest struct{}

type ListUsersRequest struct{}

type GetStatsRequest struct{}

type DeleteFileRequest struct {
	FileID string
}

type LogoutRequest struct{}

// UnknownRequest is a command name the server does not recognise. It has
// no fields.
type UnknownRequest struct {
	Name string
}

func (RegisterRequest) Command() Command   { return CmdRegister }
func (LoginRequest) Command() Command      { return CmdLogin }
func (DownloadRequest) Command() Command   { return CmdDownload }
func (ListFilesRequest) Command() Command  { return CmdListFiles }
func (ListUsersRequest) Command() Command  { return CmdListUsers }
func (GetStatsRequest) Command() Command   { return CmdGetStats }
func (DeleteFileRequest) Command() Command { return CmdDeleteFile }
func (LogoutRequest) Command() Command     { return CmdLogout }
func (u UnknownRequest) Command() Command  { return Command(u.Name) }

func (u UploadRequest) Command() Command {
	if u.Cmd == CmdSendFile {
		return CmdSendFile
	}
	return CmdUpload
}

func (r RegisterRequest) Encode(w *Writer) error {
	return writeStrings(w, string(CmdRegister), r.Username, r.Password, r.Email)
}

func (r LoginRequest) Encode(w *Writer) error {
	return writeStrings(w, string(CmdLogin), r.Username, r.Password)
}

func (r UploadRequest) Encode(w *Writer) error {
	if err := writeStrings(w, string(r.Command()), r.FileName); err != nil {
		return err
	}
	if err := w.WriteInt64(r.FileSize); err != nil {
		return err
	}
	return w.WriteUTF(r.Receiver)
}

func (r DownloadRequest) Encode(w *Writer) error {
	return writeStrings(w, string(CmdDownload), r.FileID)
}

func (ListFilesRequest) Encode(w *Writer) error { return w.WriteUTF(string(CmdListFiles)) }
func (ListUsersRequest) Encode(w *Writer) error { return w.WriteUTF(string(CmdListUsers)) }
func (GetStatsRequest) Encode(w *Writer) error  { return w.WriteUTF(string(CmdGetStats)) }
func (LogoutRequest) Encode(w *Writer) error    { return w.WriteUTF(string(CmdLogout)) }

func (r DeleteFileRequest) Encode(w *Writer) error {
	return writeStrings(w, string(CmdDeleteFile), r.FileID)
}

func (u UnknownRequest) Encode(w *Writer) error { return w.WriteUTF(u.Name) }

// ReadRequest reads a command name and its fields. For uploads the body is
// left unread. io.EOF is returned unwrapped when the peer closed the
// connection between requests.
func ReadRequest(r *Reader) (Request, error) {
	name, err := r.ReadUTF()
	if err != nil {
		return nil, err
	}

	var req Request
	switch cmd := Command(name); cmd {
	case CmdRegister:
		var q RegisterRequest
		err = readStrings(r, &q.Username, &q.Password, &q.Email)
		req = q
	case CmdLogin:
		var q LoginRequest
		err = readStrings(r, &q.Username, &q.Password)
		req = q
	case CmdUpload, CmdSendFile:
		q := UploadRequest{Cmd: cmd}
		if err = readStrings(r, &q.FileName); err == nil {
			if q.FileSize, err = r.ReadInt64(); err == nil {
				q.Receiver, err = r.ReadUTF()
			}
		}
		req = q
	case CmdDownload:
		var q DownloadRequest
		err = readStrings(r, &q.FileID)
		req = q
	case CmdDeleteFile:
		var q DeleteFileRequest
		err = readStrings(r, &q.FileID)
		req = q
	case CmdListFiles:
		req = ListFilesRequest{}
	case CmdListUsers:
		req = ListUsersRequest{}
	case CmdGetStats:
		req = GetStatsRequest{}
	case CmdLogout:
		req = LogoutRequest{}
	default:
		req = UnknownRequest{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s request: %w", name, unexpected(err))
	}
	return req, nil
}

func writeStrings(w *Writer, values ...string) error {
	for _, v := range values {
		if err := w.WriteUTF(v); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r *Reader, dst ...*string) error {
	for _, d := range dst {
		s, err := r.ReadUTF()
		if err != nil {
			return err
		}
		*d = s
	}
	return nil
}
