package lua

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/squawktown/squawk/internal/player"
)

// Command is one chat command backed by its own script file. The script sets
// name, and optionally aliases ("a, b"), description, usage and handler
// (default "execute"). The handler receives the caller as a table and the
// arguments as a list, and may return a reply string.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     string
	VM          *VM
}

type CommandManager struct {
	commands map[string]*Command
	aliases  map[string]string
	logger   *slog.Logger
	mu       sync.Mutex
}

func NewCommandManager(logger *slog.Logger) *CommandManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandManager{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		logger:   logger,
	}
}

// LoadCommands loads every .lua file in dir. A broken file is logged and
// skipped.
func (cm *CommandManager) LoadCommands(dir string, api *GameAPI) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read commands directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".lua") {
			continue
		}

		if err := cm.LoadCommandFile(filepath.Join(dir, file.Name()), api); err != nil {
			cm.logger.Warn("failed to load command file", "file", file.Name(), "error", err)
		}
	}

	cm.logger.Info("loaded lua commands", "count", cm.Len())
	return nil
}

func (cm *CommandManager) LoadCommandFile(path string, api *GameAPI) error {
	vm := NewVM()
	if api != nil {
		api.RegisterFunctions(vm)
	}

	if err := vm.LoadFile(path); err != nil {
		return err
	}

	name, err := vm.GetGlobalString("name")
	if err != nil {
		return fmt.Errorf("command missing 'name': %w", err)
	}

	cmd := &Command{
		Name:    strings.ToLower(name),
		Handler: "execute",
		VM:      vm,
	}

	if aliases, err := vm.GetGlobalString("aliases"); err == nil {
		for _, alias := range strings.Split(aliases, ",") {
			if alias = strings.TrimSpace(alias); alias != "" {
				cmd.Aliases = append(cmd.Aliases, strings.ToLower(alias))
			}
		}
	}
	if desc, err := vm.GetGlobalString("description"); err == nil {
		cmd.Description = desc
	}
	if usage, err := vm.GetGlobalString("usage"); err == nil {
		cmd.Usage = usage
	}
	if handler, err := vm.GetGlobalString("handler"); err == nil {
		cmd.Handler = handler
	}

	if !vm.HasFunction(cmd.Handler) {
		return fmt.Errorf("command %s has no handler function %s", cmd.Name, cmd.Handler)
	}

	cm.Register(cmd)
	return nil
}

func (cm *CommandManager) Register(cmd *Command) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		cm.aliases[alias] = cmd.Name
	}
}

func (cm *CommandManager) Get(name string) *Command {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.get(name)
}

func (cm *CommandManager) get(name string) *Command {
	name = strings.ToLower(name)
	if canonical, ok := cm.aliases[name]; ok {
		return cm.commands[canonical]
	}
	return cm.commands[name]
}

func (cm *CommandManager) Len() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.commands)
}

// Execute runs the named command for the player and returns its reply.
func (cm *CommandManager) Execute(p *player.Player, name string, args []string) (string, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cmd := cm.get(name)
	if cmd == nil {
		return "", fmt.Errorf("unknown command: %s", name)
	}

	state := cmd.VM.State()
	state.Global(cmd.Handler)
	if !state.IsFunction(-1) {
		state.Pop(1)
		return "", fmt.Errorf("command handler not found: %s", cmd.Handler)
	}

	pushPlayerTable(state, p)

	state.NewTable()
	for i, arg := range args {
		state.PushString(arg)
		state.RawSetInt(-2, i+1)
	}

	if err := state.ProtectedCall(2, 1, 0); err != nil {
		return "", fmt.Errorf("command %s failed: %w", cmd.Name, err)
	}

	result := ""
	if state.IsString(-1) {
		result, _ = state.ToString(-1)
	}
	state.Pop(1)

	return result, nil
}

// List returns the commands sorted by name.
func (cm *CommandManager) List() []*Command {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	commands := make([]*Command, 0, len(cm.commands))
	for _, cmd := range cm.commands {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Name < commands[j].Name
	})
	return commands
}
