package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tyemirov/animalplace/internal/apiclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// resourcePaths lists the collections reachable through "apadmin resource".
var resourcePaths = map[string]string{
	"users":      "/api/users",
	"pets":       "/api/pets",
	"plans":      "/api/plans",
	"services":   "/api/services",
	"schedules":  "/api/schedules",
	"banners":    "/api/banners",
	"microchips": "/api/microchips",
	"cashback":   "/api/cashback",
	"payments":   "/api/payments",
	"reports":    "/api/reports",
}

var errUnknownResource = errors.New("apadmin.resource.unknown")

func resourceNames() []string {
	names := make([]string, 0, len(resourcePaths))
	for name := range resourcePaths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newLoginCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Account password (defaults to $APP_PASSWORD)")
	_ = command.MarkFlagRequired("email")
	return command
}

func runLogin(command *cobra.Command, arguments []string) error {
	current, err := openSession(command)
	if err != nil {
		return err
	}
	defer current.Close()

	email, _ := command.Flags().GetString("email")
	password, _ := command.Flags().GetString("password")
	if password == "" {
		password = os.Getenv("APP_PASSWORD")
	}

	credentials, signInErr := current.client.SignIn(command.Context(), email, password)
	if signInErr != nil {
		var apiError *apiclient.APIError
		if errors.As(signInErr, &apiError) && apiError.StatusCode == http.StatusForbidden {
			_, _ = fmt.Fprintf(command.OutOrStdout(), "%s\nRun \"apadmin verify --email %s --code <code>\" with the emailed code.\n", apiclient.UserMessage(signInErr), strings.TrimSpace(email))
		}
		return reportFailure(command, signInErr)
	}
	_, _ = fmt.Fprintf(command.OutOrStdout(), "Signed in as %s <%s>\n", credentials.User.Name, credentials.User.Email)
	return nil
}

func newVerifyCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "verify",
		Short: "Complete sign-in with an emailed verification code",
		Args:  cobra.NoArgs,
		RunE:  runVerify,
	}
	command.Flags().String("email", "", "Account email")
	command.Flags().String("code", "", "Six-digit verification code")
	_ = command.MarkFlagRequired("email")
	_ = command.MarkFlagRequired("code")
	return command
}

func runVerify(command *cobra.Command, arguments []string) error {
	current, err := openSession(command)
	if err != nil {
		return err
	}
	defer current.Close()

	email, _ := command.Flags().GetString("email")
	code, _ := command.Flags().GetString("code")
	credentials, verifyErr := current.client.VerifyCode(command.Context(), email, code)
	if verifyErr != nil {
		return reportFailure(command, verifyErr)
	}
	_, _ = fmt.Fprintf(command.OutOrStdout(), "Email verified. Signed in as %s <%s>\n", credentials.User.Name, credentials.User.Email)
	return nil
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			current, err := openSession(command)
			if err != nil {
				return err
			}
			defer current.Close()
			if err := current.client.SignOut(command.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(command.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and access token expiry",
		Args:  cobra.NoArgs,
		RunE:  runWhoAmI,
	}
}

func runWhoAmI(command *cobra.Command, arguments []string) error {
	current, err := openSession(command)
	if err != nil {
		return err
	}
	defer current.Close()

	user, checkErr := current.client.CheckSession(command.Context())
	if errors.Is(checkErr, apiclient.ErrSessionEnded) {
		_, _ = fmt.Fprintln(command.OutOrStdout(), "Not signed in")
		return nil
	}
	if checkErr != nil {
		return reportFailure(command, checkErr)
	}
	_, _ = fmt.Fprintf(command.OutOrStdout(), "%s <%s> role=%s id=%s\n", user.Name, user.Email, user.Role, user.ID)

	credentials, loadErr := current.client.Session(command.Context())
	if loadErr != nil {
		return loadErr
	}
	expiresAt, expiryErr := apiclient.AccessTokenExpiry(credentials.AccessToken)
	if expiryErr != nil {
		current.logger.Debug("access token expiry unreadable", zap.String("code", "apadmin.whoami.expiry"), zap.Error(expiryErr))
		return nil
	}
	if !expiresAt.IsZero() {
		_, _ = fmt.Fprintf(command.OutOrStdout(), "Access token expires %s\n", expiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func newResourceCommand() *cobra.Command {
	resourceCmd := &cobra.Command{
		Use:   "resource",
		Short: "List, fetch, create, update, and delete dashboard resources (" + strings.Join(resourceNames(), ", ") + ")",
	}

	listCmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List a resource collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runResourceList,
	}
	listCmd.Flags().String("search", "", "Search text")
	listCmd.Flags().String("status", "", "Status filter")
	listCmd.Flags().Int("page", 0, "Page number")
	listCmd.Flags().Int("limit", 0, "Page size")

	getCmd := &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Fetch one item",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			return withResource(command, arguments[0], func(ctx context.Context, resource apiclient.Resource[map[string]any]) error {
				item, err := resource.Get(ctx, arguments[1])
				if err != nil {
					return err
				}
				return writeJSON(command.OutOrStdout(), item)
			})
		},
	}

	createCmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create an item from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			document, err := documentFlag(command)
			if err != nil {
				return err
			}
			return withResource(command, arguments[0], func(ctx context.Context, resource apiclient.Resource[map[string]any]) error {
				item, err := resource.Create(ctx, document)
				if err != nil {
					return err
				}
				return writeJSON(command.OutOrStdout(), item)
			})
		},
	}
	createCmd.Flags().String("data", "", "JSON document")
	_ = createCmd.MarkFlagRequired("data")

	updateCmd := &cobra.Command{
		Use:   "update <resource> <id>",
		Short: "Merge a JSON document into an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			document, err := documentFlag(command)
			if err != nil {
				return err
			}
			return withResource(command, arguments[0], func(ctx context.Context, resource apiclient.Resource[map[string]any]) error {
				item, err := resource.Update(ctx, arguments[1], document)
				if err != nil {
					return err
				}
				return writeJSON(command.OutOrStdout(), item)
			})
		},
	}
	updateCmd.Flags().String("data", "", "JSON document")
	_ = updateCmd.MarkFlagRequired("data")

	deleteCmd := &cobra.Command{
		Use:   "delete <resource> <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			return withResource(command, arguments[0], func(ctx context.Context, resource apiclient.Resource[map[string]any]) error {
				if err := resource.Delete(ctx, arguments[1]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(command.OutOrStdout(), "Deleted %s %s\n", arguments[0], arguments[1])
				return nil
			})
		},
	}

	resourceCmd.AddCommand(listCmd, getCmd, createCmd, updateCmd, deleteCmd)
	return resourceCmd
}

func runResourceList(command *cobra.Command, arguments []string) error {
	search, _ := command.Flags().GetString("search")
	status, _ := command.Flags().GetString("status")
	page, _ := command.Flags().GetInt("page")
	limit, _ := command.Flags().GetInt("limit")
	return withResource(command, arguments[0], func(ctx context.Context, resource apiclient.Resource[map[string]any]) error {
		items, err := resource.List(ctx, apiclient.ListOptions{Page: page, Limit: limit, Search: search, Status: status})
		if err != nil {
			return err
		}
		if items == nil {
			items = []map[string]any{}
		}
		return writeJSON(command.OutOrStdout(), items)
	})
}

func withResource(command *cobra.Command, name string, run func(context.Context, apiclient.Resource[map[string]any]) error) error {
	path, known := resourcePaths[strings.ToLower(strings.TrimSpace(name))]
	if !known {
		return fmt.Errorf("%w: %q (expected one of %s)", errUnknownResource, name, strings.Join(resourceNames(), ", "))
	}
	current, err := openSession(command)
	if err != nil {
		return err
	}
	defer current.Close()
	if err := run(command.Context(), apiclient.NewResource[map[string]any](current.client, path)); err != nil {
		return reportFailure(command, err)
	}
	return nil
}

func documentFlag(command *cobra.Command) (map[string]any, error) {
	raw, _ := command.Flags().GetString("data")
	var document map[string]any
	if err := json.Unmarshal([]byte(raw), &document); err != nil {
		return nil, fmt.Errorf("apadmin.data.invalid_json: %w", err)
	}
	return document, nil
}

func newReportsCommand() *cobra.Command {
	reportsCmd := &cobra.Command{
		Use:   "reports",
		Short: "Report attachments",
	}
	uploadCmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file as a report attachment",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportUpload,
	}
	uploadCmd.Flags().String("report", "", "Report id")
	_ = uploadCmd.MarkFlagRequired("report")
	reportsCmd.AddCommand(uploadCmd)
	return reportsCmd
}

func runReportUpload(command *cobra.Command, arguments []string) error {
	reportID, _ := command.Flags().GetString("report")
	file, openErr := os.Open(arguments[0])
	if openErr != nil {
		return openErr
	}
	defer func() { _ = file.Close() }()

	current, err := openSession(command)
	if err != nil {
		return err
	}
	defer current.Close()

	progressOut := command.ErrOrStderr()
	uploadErr := current.client.UploadReportAttachment(command.Context(), reportID, apiclient.UploadFile{
		FileName: filepath.Base(arguments[0]),
		Content:  file,
	}, func(progress apiclient.UploadProgress) {
		printProgress(progressOut, progress)
	})
	if uploadErr != nil {
		return uploadErr
	}
	_, _ = fmt.Fprintf(command.OutOrStdout(), "Uploaded %s to report %s\n", filepath.Base(arguments[0]), reportID)
	return nil
}

func printProgress(out io.Writer, progress apiclient.UploadProgress) {
	switch progress.Stage {
	case apiclient.UploadStageUploading:
		_, _ = fmt.Fprintf(out, "\ruploading %3d%%", progress.Percent)
	case apiclient.UploadStageFailed:
		_, _ = fmt.Fprintf(out, "\n%s\n", progress.Message)
	case apiclient.UploadStageCompleted:
		_, _ = fmt.Fprintln(out, "\rupload complete")
	default:
		_, _ = fmt.Fprintf(out, "\r%s", progress.Stage)
	}
}

func newOverviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Count items in every dashboard collection",
		Args:  cobra.NoArgs,
		RunE:  runOverview,
	}
}

type collectionCounter struct {
	name  string
	count func(context.Context) (int, error)
}

func countOf[T any](resource apiclient.Resource[T]) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		items, err := resource.List(ctx, apiclient.ListOptions{})
		return len(items), err
	}
}

func overviewCounters(client *apiclient.Client) []collectionCounter {
	return []collectionCounter{
		{name: "users", count: countOf(client.Users())},
		{name: "pets", count: countOf(client.Pets())},
		{name: "plans", count: countOf(client.Plans())},
		{name: "services", count: countOf(client.Services())},
		{name: "schedules", count: countOf(client.Schedules())},
		{name: "banners", count: countOf(client.Banners())},
		{name: "microchips", count: countOf(client.Microchips())},
		{name: "cashback", count: countOf(client.Cashback())},
		{name: "payments", count: countOf(client.Payments())},
		{name: "reports", count: countOf(client.Reports())},
	}
}

// runOverview fetches every collection concurrently; an expired access token
// is refreshed once for the whole batch.
func runOverview(command *cobra.Command, arguments []string) error {
	current, err := openSession(command)
	if err != nil {
		return err
	}
	defer current.Close()

	counters := overviewCounters(current.client)
	counts := make([]int, len(counters))
	group, groupCtx := errgroup.WithContext(command.Context())
	for index, counter := range counters {
		index, counter := index, counter
		group.Go(func() error {
			count, countErr := counter.count(groupCtx)
			if countErr != nil {
				return fmt.Errorf("%s: %w", counter.name, countErr)
			}
			counts[index] = count
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return reportFailure(command, err)
	}
	for index, counter := range counters {
		_, _ = fmt.Fprintf(command.OutOrStdout(), "%-11s %d\n", counter.name, counts[index])
	}
	return nil
}

// reportFailure prints the user-facing message for err and returns it.
func reportFailure(command *cobra.Command, err error) error {
	_, _ = fmt.Fprintln(command.ErrOrStderr(), apiclient.UserMessage(err))
	return err
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
