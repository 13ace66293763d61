package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	kerrors "github.com/vinayprograms/taskkit/errors"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/persist"
	"github.com/vinayprograms/taskkit/tasks"
)

// errInputClosed ends the session when input runs out mid-prompt.
var errInputClosed = errors.New("input closed")

var statusLabels = map[tasks.Status]string{
	tasks.StatusPending:    "Pending",
	tasks.StatusInProgress: "In progress",
	tasks.StatusDone:       "Done",
}

// Menu is the numbered interactive task menu.
type Menu struct {
	store  *tasks.Store
	saver  persist.Persister
	in     *bufio.Scanner
	out    io.Writer
	errOut io.Writer
	logger *logging.Logger
}

// Option configures a Menu.
type Option func(*Menu)

// WithErrorOutput sets where save failures are reported. Defaults to the
// menu output.
func WithErrorOutput(w io.Writer) Option {
	return func(m *Menu) { m.errOut = w }
}

// WithLogger sets the logger used for save failures.
func WithLogger(l *logging.Logger) Option {
	return func(m *Menu) { m.logger = l.WithComponent("cli") }
}

// NewMenu creates a menu over store. The collection is handed to saver
// after every command.
func NewMenu(store *tasks.Store, saver persist.Persister, in io.Reader, out io.Writer, opts ...Option) *Menu {
	m := &Menu{
		store:  store,
		saver:  saver,
		in:     bufio.NewScanner(in),
		out:    out,
		errOut: out,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads the saved collection into store. A missing file leaves
// the store empty.
func Restore(ctx context.Context, store *tasks.Store, p persist.Persister) (int, error) {
	all, err := p.Load(ctx)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if err := store.Import(ctx, all); err != nil {
		return 0, err
	}
	return len(all), nil
}

// Run shows the menu until the user exits or input ends.
func (m *Menu) Run(ctx context.Context) error {
	m.println("Welcome to the task manager!")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.println("\nChoose an option:")
		m.println("1. Add task")
		m.println("2. List tasks")
		m.println("3. Update task")
		m.println("4. Complete task")
		m.println("5. Delete task")
		m.println("6. Exit")

		choice, ok := m.readLine()
		if !ok {
			break
		}

		var err error
		switch choice {
		case "1":
			err = m.add(ctx)
		case "2":
			err = m.list(ctx)
		case "3":
			err = m.update(ctx)
		case "4":
			err = m.complete(ctx)
		case "5":
			err = m.remove(ctx)
		case "6":
			m.println("Goodbye!")
			return nil
		default:
			m.println("Invalid option!")
		}

		if errors.Is(err, errInputClosed) {
			m.save(ctx)
			break
		}
		if err != nil {
			m.printf("Error: %v\n", err)
		}
		m.save(ctx)
	}

	m.println("Goodbye!")
	return nil
}

func (m *Menu) save(ctx context.Context) {
	if m.saver == nil {
		return
	}
	all, err := m.store.Snapshot(ctx)
	if err == nil {
		err = m.saver.Save(ctx, all)
	}
	if err != nil {
		fmt.Fprintf(m.errOut, "Error saving tasks: %v\n", err)
		m.logger.Error("save failed", map[string]any{"error": err.Error()})
	}
}

func (m *Menu) add(ctx context.Context) error {
	m.println("Title:")
	title, ok := m.readLine()
	if !ok {
		return errInputClosed
	}
	priority, err := m.readPriority("Priority (1-5):")
	if err != nil {
		return err
	}
	due, err := m.readDate("Due date (YYYY-MM-DD):")
	if err != nil {
		return err
	}

	id, err := m.store.Create(ctx, tasks.Draft{Title: title, Priority: priority, DueDate: &due})
	if err != nil {
		return err
	}
	m.printf("Task %s added.\n", id)
	return nil
}

func (m *Menu) list(ctx context.Context) error {
	_, err := m.listTasks(ctx)
	return err
}

// listTasks prints every task and returns how many there were.
func (m *Menu) listTasks(ctx context.Context) (int, error) {
	all, err := m.store.Tasks(ctx)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		m.println("No tasks found.")
		return 0, nil
	}
	for _, t := range all {
		m.println(FormatTask(t))
	}
	return len(all), nil
}

// FormatTask renders one task as a menu line.
func FormatTask(t tasks.Task) string {
	due := "-"
	if t.DueDate != nil {
		due = t.DueDate.String()
	}
	return fmt.Sprintf("ID: %s | %s (Priority: %d, Due: %s, Status: %s)",
		t.ID, t.Title, t.Priority, due, statusLabels[t.Status])
}

// pickTask lists tasks and asks for an id. ok is false when there is
// nothing to pick.
func (m *Menu) pickTask(ctx context.Context, prompt string) (tasks.ID, bool, error) {
	n, err := m.listTasks(ctx)
	if err != nil || n == 0 {
		return "", false, err
	}
	m.println(prompt)
	line, ok := m.readLine()
	if !ok {
		return "", false, errInputClosed
	}
	return tasks.ID(line), true, nil
}

func (m *Menu) update(ctx context.Context) error {
	id, ok, err := m.pickTask(ctx, "ID of the task to update:")
	if err != nil || !ok {
		return err
	}
	if _, err := m.store.Get(ctx, id); err != nil {
		return m.report(err)
	}

	m.println("What do you want to update?")
	m.println("1. Title")
	m.println("2. Priority")
	m.println("3. Due date")
	m.println("4. Status")
	choice, ok := m.readLine()
	if !ok {
		return errInputClosed
	}

	switch choice {
	case "1":
		m.println("New title:")
		title, ok := m.readLine()
		if !ok {
			return errInputClosed
		}
		err = m.store.Update(ctx, id, tasks.Changes{Title: &title})
	case "2":
		p, perr := m.readPriority("New priority (1-5):")
		if perr != nil {
			return perr
		}
		err = m.store.UpdatePriority(ctx, id, p)
	case "3":
		due, derr := m.readDate("New due date (YYYY-MM-DD):")
		if derr != nil {
			return derr
		}
		err = m.store.Update(ctx, id, tasks.Changes{DueDate: &due})
	case "4":
		status, serr := m.readStatus()
		if serr != nil {
			return serr
		}
		if status == "" {
			return nil
		}
		err = m.store.SetStatus(ctx, id, status)
	default:
		m.println("Invalid option!")
		return nil
	}

	if err != nil {
		return m.report(err)
	}
	m.println("Task updated.")
	return nil
}

func (m *Menu) complete(ctx context.Context) error {
	id, ok, err := m.pickTask(ctx, "ID of the task to complete:")
	if err != nil || !ok {
		return err
	}
	if err := m.store.Complete(ctx, id); err != nil {
		return m.report(err)
	}
	m.println("Task completed.")
	return nil
}

func (m *Menu) remove(ctx context.Context) error {
	id, ok, err := m.pickTask(ctx, "ID of the task to delete:")
	if err != nil || !ok {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return m.report(err)
	}
	m.println("Task deleted.")
	return nil
}

// report prints expected domain failures and passes the rest up.
func (m *Menu) report(err error) error {
	switch {
	case kerrors.Is(err, kerrors.ErrCodeNotFound):
		m.println("Task not found!")
	case kerrors.Is(err, kerrors.ErrCodeAlreadyCompleted):
		m.println("Task already completed.")
	case kerrors.Is(err, kerrors.ErrCodeFieldTooLarge):
		m.printf("Value too large: %v\n", err)
	default:
		return err
	}
	return nil
}

func (m *Menu) readPriority(prompt string) (int, error) {
	m.println(prompt)
	for {
		line, ok := m.readLine()
		if !ok {
			return 0, errInputClosed
		}
		p, err := strconv.Atoi(line)
		if err == nil && p >= tasks.MinPriority && p <= tasks.MaxPriority {
			return p, nil
		}
		m.println("Please enter a number between 1 and 5")
	}
}

func (m *Menu) readDate(prompt string) (tasks.Date, error) {
	m.println(prompt)
	for {
		line, ok := m.readLine()
		if !ok {
			return tasks.Date{}, errInputClosed
		}
		d, err := tasks.ParseDate(line)
		if err == nil {
			return d, nil
		}
		m.println("Invalid format. Use YYYY-MM-DD")
	}
}

// readStatus returns "" for an invalid choice.
func (m *Menu) readStatus() (tasks.Status, error) {
	m.println("Choose the new status:")
	m.println("1. Pending")
	m.println("2. In progress")
	m.println("3. Done")
	line, ok := m.readLine()
	if !ok {
		return "", errInputClosed
	}
	switch line {
	case "1":
		return tasks.StatusPending, nil
	case "2":
		return tasks.StatusInProgress, nil
	case "3":
		return tasks.StatusDone, nil
	}
	m.println("Invalid option!")
	return "", nil
}

func (m *Menu) readLine() (string, bool) {
	if !m.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(m.in.Text()), true
}

func (m *Menu) println(s string) {
	fmt.Fprintln(m.out, s)
}

func (m *Menu) printf(format string, args ...any) {
	fmt.Fprintf(m.out, format, args...)
}
