package core

import (
	"errors"
	"fmt"
	"sync"
)

// CommandHandler decodes its own arguments from data and acts on them.
type CommandHandler func(data *[]byte) error

// Command is one entry of the control dictionary. Responses have a nil
// Handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "items=%u secs=%u ticks=%u"
	Handler CommandHandler
}

var ErrUnknownCommand = errors.New("unknown command")

// CommandRegistry maps command IDs to handlers. IDs are handed out in
// registration order, which is the order the host expects.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
	nameToID map[string]uint16
	nextID   uint16
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// Register adds a command and returns its ID. Registering a name twice
// returns the existing ID.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	}
	r.nameToID[name] = id
	return id
}

// RegisterResponse adds a message that only flows to the host.
func (r *CommandRegistry) RegisterResponse(name string, format string) uint16 {
	return r.Register(name, format, nil)
}

func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// Lookup returns the ID registered for name.
func (r *CommandRegistry) Lookup(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	return id, ok
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler for cmdID. Responses and unknown IDs are errors.
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return fmt.Errorf("%w: id %d", ErrUnknownCommand, cmdID)
	}
	if err := cmd.Handler(data); err != nil {
		return fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return nil
}

// Entries returns a copy of every command and response in ID order.
func (r *CommandRegistry) Entries() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for i := uint16(0); i < r.nextID; i++ {
		if cmd, ok := r.commands[i]; ok {
			out = append(out, *cmd)
		}
	}
	return out
}
