// Command talon is the personal desktop assistant CLI: an interactive
// REPL, one-shot commands, and rule management.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/talonhq/talon"
	"github.com/talonhq/talon/pkg/config"
)

var (
	configFile  string
	metricsAddr string
	speak       bool
)

var rootCmd = &cobra.Command{
	Use:   "talon",
	Short: "Talon - a learning personal desktop assistant",
	Long: `Talon routes natural-language commands to talent handlers, answers
conversationally with retrieved context, and learns rules, corrections,
and preferences as you use it.

Run without arguments to start the interactive prompt.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runREPL()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runREPL()
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [command]",
	Short: "Process a single command and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAssistant()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		defer closeAssistant(a)

		res, err := a.ProcessCommand(ctx, strings.Join(args, " "), speak)
		if err != nil {
			return err
		}
		if res != nil {
			fmt.Println(res.Response)
		}
		return nil
	},
}

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Summarize the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAssistant()
		if err != nil {
			return err
		}
		defer closeAssistant(a)

		summary, err := a.Reflect(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(summary)
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage automation rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAssistant()
		if err != nil {
			return err
		}
		defer closeAssistant(a)

		rules, err := a.Rules().List(cmd.Context())
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No rules stored.")
			return nil
		}
		for _, r := range rules {
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}
			fmt.Printf("%d. when you say %q -> %s (%s)\n", r.ID, r.Trigger, r.Action, state)
		}
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuleID(cmd, args[0], func(ctx context.Context, a *talon.Assistant, id int64) error {
			return a.Rules().Delete(ctx, id)
		})
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable [id]",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuleID(cmd, args[0], func(ctx context.Context, a *talon.Assistant, id int64) error {
			return a.Rules().Toggle(ctx, id, true)
		})
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable [id]",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuleID(cmd, args[0], func(ctx context.Context, a *talon.Assistant, id int64) error {
			return a.Rules().Toggle(ctx, id, false)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "metrics/health listen address, e.g. :9090")
	rootCmd.PersistentFlags().BoolVar(&speak, "speak", false, "mark replies for speech output")

	rulesCmd.AddCommand(rulesListCmd, rulesDeleteCmd, rulesEnableCmd, rulesDisableCmd)
	rootCmd.AddCommand(runCmd, askCmd, reflectCmd, rulesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	return cfg, nil
}

func newAssistant() (*talon.Assistant, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return talon.New(context.Background(), cfg)
}

func closeAssistant(a *talon.Assistant) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Printf("[Talon] shutdown: %v", err)
	}
}

func withRuleID(cmd *cobra.Command, arg string, fn func(context.Context, *talon.Assistant, int64) error) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid rule id %q", arg)
	}

	a, err := newAssistant()
	if err != nil {
		return err
	}
	defer closeAssistant(a)

	if err := fn(cmd.Context(), a, id); err != nil {
		return err
	}
	fmt.Println("Done.")
	return nil
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".talon", "history")
}

func runREPL() error {
	a, err := newAssistant()
	if err != nil {
		return err
	}
	defer closeAssistant(a)

	a.SetNotify(func(msg string) {
		fmt.Printf("\n* %s\n", msg)
	})

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := historyPath()
	if histPath != "" {
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Println("Talon ready. Type a command, or \"exit\" to quit.")

	ctx := context.Background()
	for {
		input, err := line.Prompt("> ")
		if err == io.EOF || err == liner.ErrPromptAborted {
			break
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		line.AppendHistory(input)

		res, err := a.ProcessCommand(ctx, input, speak)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if res != nil {
			fmt.Println(res.Response)
		}
	}

	if histPath != "" {
		if err := os.MkdirAll(filepath.Dir(histPath), 0700); err == nil {
			if f, err := os.Create(histPath); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}
	}

	fmt.Println("Goodbye.")
	return nil
}
