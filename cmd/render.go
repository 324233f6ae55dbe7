package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/card"
	"github.com/naoTimesdev/naotimes-og/internal/config"
	"github.com/naoTimesdev/naotimes-og/internal/render"
	"github.com/naoTimesdev/naotimes-og/internal/server"
)

type renderOptions struct {
	query string
	out   string
}

// newRenderCmd creates the 'render' subcommand, which renders one artifact
// to a file without exposing the HTTP service.
func newRenderCmd() *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render <user_card|large>",
		Short: "Renders a single artifact to a PNG file",
		Long: `Renders one artifact using the same query parameters as the HTTP
routes, for example:

  naotimes-og render user_card --query 'username=noaione&created_at=1&joined_at=2' --out card.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRenderCommand(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "artifact query string")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output PNG path (default <kind>.png)")
	return cmd
}

// decodeArtifact maps a route name to its render profile and parameters.
func decodeArtifact(kind, rawQuery string) (render.Profile, render.Params, error) {
	q, err := card.ParseQuery(rawQuery)
	if err != nil {
		return render.Profile{}, nil, err
	}
	switch kind {
	case "user_card", "usercard":
		params, err := card.DecodeUserCard(q)
		return render.UserCardProfile, params, err
	case "large", "og", "og_image":
		params, err := card.DecodeOGImage(q)
		return render.OGImageProfile, params, err
	default:
		return render.Profile{}, nil, fmt.Errorf("unknown artifact %q", kind)
	}
}

func runRenderCommand(cmd *cobra.Command, kind string, opts *renderOptions) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	profile, params, err := decodeArtifact(kind, opts.query)
	if err != nil {
		return err
	}
	out := opts.out
	if out == "" {
		out = profile.Kind + ".png"
	}

	// The browser loads templates over HTTP, so serve them on a loopback
	// port for the duration of the render.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	local := *cfg
	local.Server.Hostname = "http://" + ln.Addr().String()
	local.Archive.Backend = config.BackendNone
	local.Database.DSN = ""
	local.Telemetry.Endpoint = ""
	local.RateLimit.RPS = 0

	app, err := server.Build(cmd.Context(), &local)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("build application: %w", err)
	}
	srv := &http.Server{Handler: app.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if serr := srv.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			zap.L().Error("template server error", zap.Error(serr))
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = app.Close(ctx)
	}()

	res := app.Renderer().Render(cmd.Context(), profile, params)
	if !res.OK() {
		return fmt.Errorf("render %s: %w", profile.Kind, res.Err)
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(res.Data))
	return nil
}
