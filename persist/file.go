package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/tasks"
)

// Format selects the on-disk schema.
type Format string

const (
	// FormatNative is taskkit's own versioned document.
	FormatNative Format = "native"

	// FormatLegacy is the flat array written by the earlier interactive
	// tool: id, titulo, prioridade, data_vencimento, status.
	FormatLegacy Format = "legacy"
)

// ParseFormat maps config text to a Format. Empty means native.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatNative:
		return FormatNative, nil
	case FormatLegacy:
		return FormatLegacy, nil
	}
	return "", kerrors.InvalidInput(fmt.Sprintf("unknown file format %q", s))
}

// Persister saves and loads a task collection.
type Persister interface {
	Save(ctx context.Context, all []tasks.Task) error
	Load(ctx context.Context) ([]tasks.Task, error)
}

// File persists a collection as one JSON file.
type File struct {
	Path   string
	Format Format

	// Now stamps CreatedAt on legacy loads, which carry no creation time.
	// Nil means time.Now.
	Now func() time.Time
}

var _ Persister = (*File)(nil)

// Save writes all to a temporary file in the same directory and renames it
// over Path.
func (f *File) Save(ctx context.Context, all []tasks.Task) error {
	if err := ctx.Err(); err != nil {
		return kerrors.Wrap(err, "save tasks")
	}

	var (
		data []byte
		err  error
	)
	switch f.format() {
	case FormatLegacy:
		data, err = encodeLegacy(all)
	default:
		data, err = encodeNative(all)
	}
	if err != nil {
		return kerrors.Wrap(err, "encode tasks")
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return kerrors.IO(fmt.Sprintf("save %s", f.Path), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return kerrors.IO(fmt.Sprintf("save %s", f.Path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return kerrors.IO(fmt.Sprintf("save %s", f.Path), err)
	}
	if err := tmp.Close(); err != nil {
		return kerrors.IO(fmt.Sprintf("save %s", f.Path), err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return kerrors.IO(fmt.Sprintf("save %s", f.Path), err)
	}
	return nil
}

// Load reads Path. A missing or unparsable file fails with IO; a document
// that parses but violates the schema fails with CORRUPTION.
func (f *File) Load(ctx context.Context) ([]tasks.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, kerrors.Wrap(err, "load tasks")
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, kerrors.IO(fmt.Sprintf("load %s", f.Path), err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, kerrors.IO(fmt.Sprintf("parse %s", f.Path), err)
	}

	switch f.format() {
	case FormatLegacy:
		if err := validate(legacySchema, doc); err != nil {
			return nil, kerrors.Corruption(fmt.Sprintf("%s: %v", f.Path, err), kerrors.WithCause(err))
		}
		return decodeLegacy(data, f.now())
	default:
		if err := validate(nativeSchema, doc); err != nil {
			return nil, kerrors.Corruption(fmt.Sprintf("%s: %v", f.Path, err), kerrors.WithCause(err))
		}
		return decodeNative(data)
	}
}

func (f *File) format() Format {
	if f.Format == "" {
		return FormatNative
	}
	return f.Format
}

func (f *File) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// --- native ---

type nativeDoc struct {
	Version int          `json:"version"`
	Tasks   []tasks.Task `json:"tasks"`
}

func encodeNative(all []tasks.Task) ([]byte, error) {
	if all == nil {
		all = []tasks.Task{}
	}
	data, err := json.MarshalIndent(nativeDoc{Version: 1, Tasks: all}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decodeNative(data []byte) ([]tasks.Task, error) {
	var doc nativeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, kerrors.Corruption(fmt.Sprintf("decode tasks: %v", err))
	}
	return doc.Tasks, nil
}

// --- legacy ---

type legacyTask struct {
	ID             string     `json:"id"`
	Titulo         string     `json:"titulo"`
	Prioridade     uint8      `json:"prioridade"`
	DataVencimento tasks.Date `json:"data_vencimento"`
	Status         string     `json:"status"`
}

var legacyStatus = map[tasks.Status]string{
	tasks.StatusPending:    "Pendente",
	tasks.StatusInProgress: "EmProgresso",
	tasks.StatusDone:       "Concluida",
}

func fromLegacyStatus(s string) (tasks.Status, bool) {
	for st, name := range legacyStatus {
		if name == s {
			return st, true
		}
	}
	return "", false
}

// encodeLegacy writes the compact array form. Descriptions have no legacy
// field and are dropped; a task without a due date gets its creation day.
func encodeLegacy(all []tasks.Task) ([]byte, error) {
	out := make([]legacyTask, 0, len(all))
	for _, t := range all {
		due := tasks.DateOf(t.CreatedAt)
		if t.DueDate != nil {
			due = *t.DueDate
		}
		out = append(out, legacyTask{
			ID:             string(t.ID),
			Titulo:         t.Title,
			Prioridade:     uint8(tasks.ClampPriority(t.Priority)),
			DataVencimento: due,
			Status:         legacyStatus[t.Status],
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeLegacy(data []byte, now time.Time) ([]tasks.Task, error) {
	var in []legacyTask
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, kerrors.Corruption(fmt.Sprintf("decode tasks: %v", err))
	}

	out := make([]tasks.Task, 0, len(in))
	for _, lt := range in {
		st, ok := fromLegacyStatus(lt.Status)
		if !ok {
			return nil, kerrors.Corruption(fmt.Sprintf("task %s has unknown status %q", lt.ID, lt.Status))
		}
		due := lt.DataVencimento
		out = append(out, tasks.Task{
			ID:        tasks.ID(lt.ID),
			Title:     lt.Titulo,
			Priority:  int(lt.Prioridade),
			Status:    st,
			DueDate:   &due,
			CreatedAt: now,
		})
	}
	return out, nil
}
