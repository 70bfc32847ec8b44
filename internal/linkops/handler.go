package linkops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"symdeploy/internal/elevation"
	"symdeploy/internal/ipc"
	"symdeploy/internal/logging"
)

// Argument names bound into the elevation request.
const (
	ArgTagFile = "tagFile"
	ArgRoots   = "roots"
)

// Error codes carried in completed.err.code.
const (
	CodeNotSupported = "not-supported"
	CodePermission   = "permission"
	CodeOutsideRoot  = "outside-root"
	CodeNotExist     = "not-exist"
	CodeIO           = "io"
)

var errOutsideRoot = errors.New("path outside managed roots")

// Handler creates and removes symbolic links inside the elevated helper.
type Handler struct {
	tagFile string
	roots   []string
	logger  *slog.Logger
}

// New builds a Handler. Directories created for a link receive an empty
// tagFile marking them as owned by symdeploy. When roots is non-empty every
// destination must lie inside one of them.
func New(tagFile string, roots []string, logger *slog.Logger) *Handler {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if root = strings.TrimSpace(root); root != "" {
			cleaned = append(cleaned, filepath.Clean(root))
		}
	}
	return &Handler{
		tagFile: tagFile,
		roots:   cleaned,
		logger:  logging.NewComponentLogger(logger, "linkops"),
	}
}

// FromRequest builds a Handler from the arguments bound into req.
func FromRequest(req *elevation.Request, logger *slog.Logger) (*Handler, error) {
	var tagFile string
	if err := req.Arg(ArgTagFile, &tagFile); err != nil {
		return nil, err
	}
	if tagFile == "" || strings.ContainsAny(tagFile, `/\`) {
		return nil, fmt.Errorf("invalid tag file name %q", tagFile)
	}
	var roots []string
	if _, ok := req.Args[ArgRoots]; ok {
		if err := req.Arg(ArgRoots, &roots); err != nil {
			return nil, err
		}
	}
	return New(tagFile, roots, logger), nil
}

// Args returns the request arguments FromRequest expects.
func Args(tagFile string, roots []string) map[string]any {
	return map[string]any{
		ArgTagFile: tagFile,
		ArgRoots:   roots,
	}
}

// Handle serves one link-file or remove-link request and sends exactly one
// completed reply for it.
func (h *Handler) Handle(ctx context.Context, msg ipc.Message, out ipc.Sender) error {
	var err error
	switch msg.Type {
	case ipc.TypeLinkFile:
		err = h.linkFile(msg.Source, msg.Destination)
	case ipc.TypeRemoveLink:
		err = h.removeLink(msg.Destination)
	default:
		return fmt.Errorf("%w: linkops cannot handle %q", ipc.ErrProtocol, msg.Type)
	}
	if err == nil {
		return out.Send(ipc.Completed(msg.Num, nil))
	}

	remote := &ipc.RemoteError{Code: classify(err), Message: err.Error()}
	if remote.Code == CodeNotSupported {
		report := ipc.Message{Type: ipc.TypeReport, Kind: ipc.ReportNotSupported, Num: msg.Num, Destination: msg.Destination}
		if sendErr := out.Send(report); sendErr != nil {
			return sendErr
		}
	} else {
		h.logger.Error("link operation failed",
			logging.String("operation", string(msg.Type)),
			logging.Uint64(logging.FieldNum, msg.Num),
			logging.String(logging.FieldDestination, msg.Destination),
			logging.Error(err),
			logging.String(logging.FieldEventType, "link_operation_failed"))
	}
	return out.Send(ipc.Completed(msg.Num, remote))
}

func (h *Handler) linkFile(source, destination string) error {
	destination = filepath.Clean(destination)
	if err := h.checkRoot(destination); err != nil {
		return err
	}

	created, err := ensureDir(filepath.Dir(destination))
	if err != nil {
		return err
	}
	for _, dir := range created {
		if err := h.writeTag(dir); err != nil {
			return err
		}
	}

	if info, err := os.Lstat(destination); err == nil {
		if info.IsDir() {
			return &fs.PathError{Op: "link", Path: destination, Err: syscall.EISDIR}
		}
		if err := os.Remove(destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("replace %s: %w", destination, err)
		}
	}
	if err := os.Symlink(source, destination); err != nil {
		return err
	}
	h.logger.Debug("link created",
		logging.String(logging.FieldSource, source),
		logging.String(logging.FieldDestination, destination))
	return nil
}

func (h *Handler) removeLink(destination string) error {
	destination = filepath.Clean(destination)
	if err := h.checkRoot(destination); err != nil {
		return err
	}

	info, err := os.Lstat(destination)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		h.logger.Debug("not a link, left in place", logging.String(logging.FieldDestination, destination))
		return nil
	}
	if err := os.Remove(destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	h.pruneTagged(filepath.Dir(destination))
	return nil
}

// ensureDir creates dir and returns the directories that did not exist
// before, outermost first.
func ensureDir(dir string) ([]string, error) {
	var missing []string
	for current := dir; ; {
		_, err := os.Stat(current)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, current)
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing, nil
}

func (h *Handler) writeTag(dir string) error {
	path := filepath.Join(dir, h.tagFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write tag file: %w", err)
	}
	return f.Close()
}

// pruneTagged removes dir and its ancestors while each contains nothing but
// the tag file. Roots themselves are never removed.
func (h *Handler) pruneTagged(dir string) {
	for {
		if h.isRoot(dir) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) != 1 || entries[0].Name() != h.tagFile {
			return
		}
		if err := os.Remove(filepath.Join(dir, h.tagFile)); err != nil {
			return
		}
		if err := os.Remove(dir); err != nil {
			h.logger.Debug("tagged directory kept", logging.String("dir", dir), logging.Error(err))
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func (h *Handler) isRoot(dir string) bool {
	for _, root := range h.roots {
		if dir == root {
			return true
		}
	}
	return false
}

func (h *Handler) checkRoot(path string) error {
	if len(h.roots) == 0 {
		return nil
	}
	for _, root := range h.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", errOutsideRoot, path)
}

func classify(err error) string {
	switch {
	case errors.Is(err, errOutsideRoot):
		return CodeOutsideRoot
	case notSupported(err):
		return CodeNotSupported
	case errors.Is(err, fs.ErrPermission), privilegeNotHeld(err):
		return CodePermission
	case errors.Is(err, fs.ErrNotExist):
		return CodeNotExist
	default:
		return CodeIO
	}
}
