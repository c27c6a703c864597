package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"virtual_tryon/generator"
	"virtual_tryon/logging"
	"virtual_tryon/mcpserver"
	"virtual_tryon/pipeline"
	"virtual_tryon/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := server.New(server.Deps{
				Pipeline: a.orch,
				Checker:  a.checker,
				Ingestor: a.ingestor,
				Store:    a.store,
				Stats:    a.pool.Stats,
				Metrics:  a.metrics.Handler(),
				Provider: a.provider,
			}, server.Options{
				MaxUploadBytes: a.cfg.MaxUploadBytes(),
				RunTimeout:     a.cfg.Pipeline.RunTimeout,
			})
			if err != nil {
				return err
			}
			listen := a.cfg.ServerAddr
			if addr != "" {
				listen = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			httpSrv := &http.Server{Addr: listen, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe() }()
			logging.New("serve").Info("starting web server", "addr", listen)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			logging.New("serve").Info("shutting down")
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server_addr)")
	return cmd
}

// specFlags binds the model attributes shared by generate and model.
func specFlags(cmd *cobra.Command, spec *generator.ModelSpecification, shot, angle *string) {
	def := generator.DefaultModelSpecification()
	f := cmd.Flags()
	f.StringVar(&spec.Gender, "gender", def.Gender, "female, male or other")
	f.IntVar(&spec.Age, "age", def.Age, "age in years")
	f.StringVar(&spec.Nationality, "nationality", def.Nationality, "nationality or ethnicity")
	f.IntVar(&spec.Height, "height", def.Height, "height in cm")
	f.IntVar(&spec.Weight, "weight", def.Weight, "weight in kg")
	f.StringVar(shot, "shot", string(def.Camera.ShotType), "full_body or half_body")
	f.StringVar(angle, "angle", string(def.Camera.Angle), "front or side")
	f.StringVar(&spec.Action, "pose", "", "pose description, any language")
	f.StringVar(&spec.Scene, "scene", "", "scene description, any language")
}

func newGenerateCmd(flags *rootFlags) *cobra.Command {
	var (
		garment     string
		spec        generator.ModelSpecification
		shot, angle string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the full try-on pipeline for a garment image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			encoded, err := readEncoded(garment)
			if err != nil {
				return err
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			spec.Camera = generator.CameraSettings{ShotType: generator.ShotType(shot), Angle: generator.Angle(angle)}
			ctx, cancel := runContext(cmd.Context(), a.cfg.Pipeline.RunTimeout)
			defer cancel()
			res, err := a.orch.Execute(ctx, pipeline.Request{GarmentImage: encoded, Spec: spec})
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&garment, "garment", "", "path to the garment image (required)")
	_ = cmd.MarkFlagRequired("garment")
	specFlags(cmd, &spec, &shot, &angle)
	return cmd
}

func newModelCmd(flags *rootFlags) *cobra.Command {
	var (
		spec        generator.ModelSpecification
		shot, angle string
	)
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Generate a model image only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			spec.Camera = generator.CameraSettings{ShotType: generator.ShotType(shot), Angle: generator.Angle(angle)}
			ctx, cancel := runContext(cmd.Context(), a.cfg.Pipeline.RunTimeout)
			defer cancel()
			res, err := a.orch.GenerateModel(ctx, spec)
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	specFlags(cmd, &spec, &shot, &angle)
	return cmd
}

func newCheckCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check <garment-image>",
		Short: "Check whether an image shows a single top garment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := readEncoded(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := a.ingestor.Ingest(encoded)
			if err != nil {
				return err
			}
			defer func() { _ = a.store.Delete(path) }()
			v, err := a.checker.Check(cmd.Context(), path)
			if err != nil {
				return err
			}
			if v.Valid {
				fmt.Fprintln(cmd.OutOrStdout(), "valid")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rejected: %s\n", v.Message)
			return nil
		},
	}
}

func newMCPCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the try-on tools over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			srv, err := mcpserver.NewServer(a.orch, a.checker, a.ingestor, a.store, version)
			if err != nil {
				return err
			}
			logging.New("mcp").Info("starting MCP server over stdio")
			return srv.Serve(cmd.Context())
		},
	}
}

func readEncoded(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read garment image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func runContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func renderResult(w io.Writer, res pipeline.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Artifact", "File", "Size (KB)", "URL"})
	t.AppendRow(table.Row{"model", res.Model.Filename, fmt.Sprintf("%.2f", res.Model.SizeKB), res.Model.URL})
	if res.Final.Path != res.Model.Path {
		t.AppendRow(table.Row{"try-on", res.Final.Filename, fmt.Sprintf("%.2f", res.Final.SizeKB), res.Final.URL})
	}
	t.Render()

	fmt.Fprintf(w, "run: %s\n", res.RunID)
	if res.FallbackUsed {
		fmt.Fprintln(w, "description: local fallback")
	}
}
