package elevation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// RequestVersion is the request document layout the helper understands.
const RequestVersion = 1

// HandlerName selects the behavior the helper runs. The set is closed and
// compiled into the helper; the host never ships code.
type HandlerName string

// HandlerLinkOperations creates and removes symbolic links on behalf of the host.
const HandlerLinkOperations HandlerName = "link-operations"

// Known reports whether name is a handler this build can run.
func (n HandlerName) Known() bool {
	switch n {
	case HandlerLinkOperations:
		return true
	default:
		return false
	}
}

// Request is everything the elevated helper needs to serve one session.
// Handlers cannot reach host state: anything they need travels in Args.
type Request struct {
	Version    int                        `json:"version"`
	ChannelID  string                     `json:"channelId"`
	Socket     string                     `json:"socket"`
	Token      string                     `json:"token"`
	Handler    HandlerName                `json:"handler"`
	Args       map[string]json.RawMessage `json:"args"`
	ModuleRoot string                     `json:"moduleRoot"`
}

// NewChannelID returns a fresh session channel id.
func NewChannelID() string {
	return "symdeploy-" + uuid.NewString()
}

// NewRequest binds args for handler. Every argument is encoded immediately so
// values that cannot cross the process boundary fail here, before anything
// is spawned.
func NewRequest(channelID, socket string, handler HandlerName, args map[string]any) (*Request, error) {
	if !handler.Known() {
		return nil, Wrap(ErrMarshal, "build request", fmt.Sprintf("unknown handler %q", handler), nil)
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	encoded := make(map[string]json.RawMessage, len(args))
	for _, name := range names {
		raw, err := json.Marshal(args[name])
		if err != nil {
			return nil, Wrap(ErrMarshal, "build request", fmt.Sprintf("argument %q", name), err)
		}
		encoded[name] = raw
	}

	moduleRoot := ""
	if exe, err := os.Executable(); err == nil {
		moduleRoot = filepath.Dir(exe)
	}

	return &Request{
		Version:    RequestVersion,
		ChannelID:  channelID,
		Socket:     socket,
		Token:      uuid.NewString(),
		Handler:    handler,
		Args:       encoded,
		ModuleRoot: moduleRoot,
	}, nil
}

// Arg decodes the bound argument name into dst.
func (r *Request) Arg(name string, dst any) error {
	raw, ok := r.Args[name]
	if !ok {
		return fmt.Errorf("argument %q not bound", name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode argument %q: %w", name, err)
	}
	return nil
}

// Encode writes the request document to w.
func (r *Request) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Decode reads and validates a request document.
func Decode(rd io.Reader) (*Request, error) {
	var req Request
	if err := json.NewDecoder(rd).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// ReadFile decodes the request document stored at path.
func ReadFile(path string) (*Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open request: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func (r *Request) validate() error {
	if r.Version != RequestVersion {
		return fmt.Errorf("unsupported request version %d (want %d)", r.Version, RequestVersion)
	}
	if !r.Handler.Known() {
		return fmt.Errorf("unknown handler %q", r.Handler)
	}
	if r.ChannelID == "" || r.Socket == "" || r.Token == "" {
		return errors.New("request missing channel, socket or token")
	}
	return nil
}
