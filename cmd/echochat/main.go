// Package main provides the echo-chat terminal client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/echo-chat/client/internal/bootstrap"
	"github.com/zhouzirui/echo-chat/client/internal/config"
	"github.com/zhouzirui/echo-chat/client/internal/logger"
	"github.com/zhouzirui/echo-chat/client/internal/terminal"
)

var version = "0.1.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "echochat",
	Short:         "Echo chat terminal client",
	Long:          `echochat logs in against the echo-chat auth server and talks to the echo WebSocket server, keeping every conversation in a local database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

var loginCmd = &cobra.Command{
	Use:   "login [identifier]",
	Short: "Log in with email or username, then open the chat",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier := ""
		if len(args) == 1 {
			identifier = args[0]
		}
		return withApp(cmd, func(ctx context.Context, a *terminal.App) error {
			if err := a.Login(ctx, identifier); err != nil {
				return err
			}
			return a.Chat(ctx)
		})
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account, then open the chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		username, _ := cmd.Flags().GetString("username")
		email, _ := cmd.Flags().GetString("email")
		return withApp(cmd, func(ctx context.Context, a *terminal.App) error {
			if err := a.Signup(ctx, username, email); err != nil {
				return err
			}
			return a.Chat(ctx)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *terminal.App) error {
			return a.Logout()
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the chat view (requires a valid login)",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored chat sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *terminal.App) error {
			return a.Sessions(ctx)
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("echochat v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, terminal.ErrNotLoggedIn) && !errors.Is(err, terminal.ErrSessionExpired) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "Set log level (debug|info|warn|error) [default: LOG_LEVEL or warn]")
	flags.String("log-file", "", "Write logs to file instead of stderr")
	flags.String("db", "", "Local database file [default: CHAT_DB_PATH]")
	flags.String("auth-url", "", "Auth server base URL [default: AUTH_BASE_URL]")
	flags.String("echo-url", "", "Echo WebSocket URL [default: ECHO_WS_URL]")
	flags.String("history", defaultHistoryFile(), "Readline history file, empty to disable")

	// Bind flags to viper
	for _, name := range []string{"log-level", "log-file", "db", "auth-url", "echo-url", "history"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}

	signupCmd.Flags().String("username", "", "Username for the new account")
	signupCmd.Flags().String("email", "", "Email for the new account")

	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, chatCmd, sessionsCmd, versionCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *terminal.App) error {
		return a.Chat(ctx)
	})
}

// withApp 加载配置、打开本地数据库和行编辑器，然后执行 fn
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *terminal.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile, err := logger.Configure(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logFile.Close()

	services, err := bootstrap.Build(cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	history := viper.GetString("history")
	if history != "" {
		if err := os.MkdirAll(filepath.Dir(history), 0o700); err != nil {
			logger.Warn("history disabled", "error", err)
			history = ""
		}
	}

	rl, err := terminal.NewReadline(history)
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer rl.Close()

	// 日志写到 readline 的输出上，避免打乱输入行
	if cfg.Log.File == "" {
		logger.SetOutput(rl.Stderr())
	}

	a := terminal.NewApp(rl, services.Auth, services.Guard, services.Chat, terminal.DefaultTheme())
	return fn(ctx, a)
}

// loadConfig 读取环境变量配置，命令行参数优先
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	} else if os.Getenv("LOG_LEVEL") == "" {
		// 终端里默认只显示警告
		cfg.Log.Level = "warn"
	}
	if file := viper.GetString("log-file"); file != "" {
		cfg.Log.File = file
	}
	if db := viper.GetString("db"); db != "" {
		cfg.Store.Path = db
	}
	if authURL := viper.GetString("auth-url"); authURL != "" {
		cfg.Auth.BaseURL = authURL
	}
	if echoURL := viper.GetString("echo-url"); echoURL != "" {
		cfg.Socket.URL = echoURL
	}
	// 终端客户端不暴露 /metrics
	cfg.Metrics.Enabled = false
	return cfg, nil
}

func defaultHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "echochat", "history")
}
