package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/thanyathonk/read-pdf-anything/internal/app"
	"github.com/thanyathonk/read-pdf-anything/internal/chat"
	"github.com/thanyathonk/read-pdf-anything/internal/library"
	"github.com/thanyathonk/read-pdf-anything/internal/models"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath prefers the --config flag over READPDF_CONFIG.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("READPDF_CONFIG")
}

// newApp builds the client, restores any stored session and loads the
// document list and transcript. The caller must defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

var rootCmd = &cobra.Command{
	Use:           "readpdf",
	Short:         "Chat with your PDF documents from the terminal",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// auth commands

var registerCmd = &cobra.Command{
	Use:   "register EMAIL NAME",
	Short: "Create an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := promptPassword("Password")
		if err != nil {
			return err
		}
		user, err := a.Identity.Register(ctx, args[0], args[1], password)
		if err != nil {
			return err
		}
		fmt.Printf("Registered and signed in as %s <%s>\n", user.Name, user.Email)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login EMAIL",
	Short: "Sign in with email and password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := promptPassword("Password")
		if err != nil {
			return err
		}
		user, err := a.Identity.Login(ctx, args[0], password)
		if err != nil {
			return err
		}
		fmt.Printf("Signed in as %s <%s>\n", user.Name, user.Email)
		return nil
	},
}

var googleLoginCmd = &cobra.Command{
	Use:   "google-login CREDENTIAL",
	Short: "Sign in with a Google ID token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.Identity.GoogleLogin(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Signed in as %s <%s>\n", user.Name, user.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear local guest data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Identity.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the active identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id := a.Identity.Current()
		if !id.IsAuthenticated() {
			fmt.Println("Browsing as a guest. Uploads and chat history live in the local cache for 24 hours.")
			return nil
		}
		fmt.Printf("%s <%s> via %s\n", id.User.Name, id.User.Email, id.User.Provider)
		return nil
	},
}

// docs commands

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the document library",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if refresh {
			if err := a.Library.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh library: %w", err)
			}
		}
		docs := a.Library.Documents()
		if len(docs) == 0 {
			fmt.Println("No documents. Add one with: readpdf docs upload FILE.pdf")
			return nil
		}
		for _, doc := range docs {
			printDocument(doc)
		}
		sel := a.Library.SelectedDocumentIDs()
		fmt.Printf("%d document(s), %d selected\n", len(docs), len(sel))
		return nil
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload PDF files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		files := make([]library.File, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			files = append(files, library.File{Name: filepath.Base(path), Data: data})
		}

		batch := a.Library.Upload(files...)
		batch.Wait()

		note := batch.Notification()
		for _, rej := range note.Rejected {
			fmt.Printf("rejected %s: %s\n", rej.Name, rej.Reason)
		}
		for _, task := range a.Library.Tasks() {
			if task.Status == models.UploadFailed {
				fmt.Printf("failed   %s: %s\n", task.Name, task.Error)
			}
		}
		fmt.Printf("%d uploaded, %d failed, %d rejected\n", note.Succeeded, note.Failed, len(note.Rejected))
		if note.Succeeded > 0 {
			for _, doc := range a.Library.Documents() {
				printDocument(doc)
			}
		}
		return nil
	},
}

var docsRemoveCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Library.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted.")
		return nil
	},
}

var docsRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a document (requires an account)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Library.Rename(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Renamed.")
		return nil
	},
}

var docsToggleCmd = &cobra.Command{
	Use:   "toggle ID",
	Short: "Flip whether a document is consulted by chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Library.ToggleSelection(args[0]); err != nil {
			return err
		}
		sel := a.Library.SelectedDocumentIDs()
		fmt.Printf("%d document(s) selected\n", len(sel))
		return nil
	},
}

var docsToggleAllCmd = &cobra.Command{
	Use:   "toggle-all",
	Short: "Select every document, or none when all are selected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.Library.ToggleAllSelection()
		sel := a.Library.SelectedDocumentIDs()
		fmt.Printf("%d document(s) selected\n", len(sel))
		return nil
	},
}

// chat commands

var askCmd = &cobra.Command{
	Use:   "ask QUESTION...",
	Short: "Ask a question over the selected documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return runAsk(ctx, a, func(sendCtx context.Context) (*models.ChatMessage, error) {
			return a.Chat.Send(sendCtx, strings.Join(args, " "))
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit INDEX QUESTION...",
	Short: "Rewrite an earlier question and ask again from there",
	Long: "Rewrite the question at INDEX (as shown by history), discard it and " +
		"everything after it, and send the new wording.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("INDEX must be a number: %w", err)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return runAsk(ctx, a, func(sendCtx context.Context) (*models.ChatMessage, error) {
			return a.Chat.Edit(sendCtx, index, strings.Join(args[1:], " "))
		})
	},
}

// runAsk drives one question while watching for Ctrl-C. An interrupt stops
// the answer through the session so the transcript records the stop.
func runAsk(ctx context.Context, a *app.App, send func(context.Context) (*models.ChatMessage, error)) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	type result struct {
		reply *models.ChatMessage
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := send(context.WithoutCancel(ctx))
		done <- result{reply, err}
	}()

	var res result
	select {
	case <-sigCtx.Done():
		a.Chat.Cancel()
		res = <-done
	case res = <-done:
	}

	switch {
	case errors.Is(res.err, chat.ErrStopped):
		fmt.Println("Stopped.")
		return nil
	case res.err != nil:
		return res.err
	}

	fmt.Println(res.reply.Content)
	for _, src := range res.reply.Sources {
		fmt.Printf("  source: %s (pages %v)\n", src.PDFName, src.Pages)
	}
	return nil
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		msgs := a.Chat.Messages()
		if len(msgs) == 0 {
			fmt.Println("No conversation yet. Start one with: readpdf ask QUESTION")
			return nil
		}
		for i, msg := range msgs {
			marker := ""
			if msg.IsError {
				marker = " [error]"
			} else if msg.IsStopped {
				marker = " [stopped]"
			}
			fmt.Printf("%3d %-9s%s %s\n", i, string(msg.Role)+":", marker, msg.Content)
		}
		return nil
	},
}

var clearHistoryCmd = &cobra.Command{
	Use:   "clear-history",
	Short: "Delete the conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Chat.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("Conversation cleared.")
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the API server is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(resolveConfigPath())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.API.Health(cmd.Context()); err != nil {
			return fmt.Errorf("server at %s is not healthy: %w", a.Config.Remote.BaseURL, err)
		}
		fmt.Printf("Server at %s is healthy.\n", a.Config.Remote.BaseURL)
		return nil
	},
}

func printDocument(doc models.Document) {
	marker := " "
	if doc.Selected {
		marker = "*"
	}
	uploaded := ""
	if doc.UploadedAt > 0 {
		uploaded = time.UnixMilli(doc.UploadedAt).Format("2006-01-02 15:04")
	}
	fmt.Printf("%s %-36s %-30s %8s  %s\n", marker, doc.ID, doc.Name, formatSize(doc.SizeBytes), uploaded)
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json")

	docsCmd.AddCommand(docsListCmd)
	docsListCmd.Flags().Bool("refresh", false, "Fetch the list from the server before printing")
	docsCmd.AddCommand(docsUploadCmd)
	docsCmd.AddCommand(docsRemoveCmd)
	docsCmd.AddCommand(docsRenameCmd)
	docsCmd.AddCommand(docsToggleCmd)
	docsCmd.AddCommand(docsToggleAllCmd)

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(googleLoginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearHistoryCmd)
	rootCmd.AddCommand(healthCmd)
}
