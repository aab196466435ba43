// Package help is the built-in plugin that lists commands and their help
// text.
package help

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/plugin"
)

// Name is the plugin name help is registered under.
const Name = "help"

// Catalog lists the command handlers of loaded plugins.
type Catalog interface {
	Commands() []plugin.CommandInfo
}

// Host gives the plugin access to the running plugin manager.
type Host interface {
	Manager() *plugin.Manager
}

// New returns the help module.
func New(host Host) plugin.Module {
	return plugin.Factory(func(plugin.SetupContext) (plugin.Instance, error) {
		h := &helper{catalog: func() Catalog {
			if m := host.Manager(); m != nil {
				return m
			}
			return nil
		}}
		return plugin.HandlerList{
			plugin.Command("help", []string{"help"}, h.cmdHelp,
				".help - list commands",
				".help <command> - show help for a command"),
		}, nil
	})
}

type helper struct {
	catalog func() Catalog
}

func (h *helper) cmdHelp(b bot.Bot, _ bot.UserRef, channel, message string) error {
	catalog := h.catalog()
	if catalog == nil {
		return nil
	}
	infos := catalog.Commands()

	args := strings.Fields(message)[1:]
	if len(args) == 0 {
		return b.Msg(channel, "Commands: "+strings.Join(triggers(infos), ", "))
	}

	want := strings.TrimPrefix(strings.ToLower(args[0]), ".")
	for _, info := range infos {
		for _, trigger := range info.Commands {
			if trigger != want {
				continue
			}
			if len(info.Help) == 0 {
				return b.Msg(channel, fmt.Sprintf("No help for .%s.", want))
			}
			for _, line := range info.Help {
				if err := b.Msg(channel, line); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return b.Msg(channel, fmt.Sprintf("Unknown command .%s.", want))
}

func triggers(infos []plugin.CommandInfo) []string {
	seen := make(map[string]bool)
	var out []string
	for _, info := range infos {
		for _, t := range info.Commands {
			if !seen[t] {
				seen[t] = true
				out = append(out, "."+t)
			}
		}
	}
	sort.Strings(out)
	return out
}
