package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/CodeChampian/safebot/engine/app"
	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/engine/ingest"
	"github.com/CodeChampian/safebot/engine/semantic"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var errNoNATS = errors.New("--remote needs nats.url in the config or NATS_URL")

func (c *cli) assessCmd() *cobra.Command {
	var (
		vendors []string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "assess <query>",
		Short: "Assess supplier risk for a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context(), app.WithoutNATS())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			v, err := a.Assessor.Assess(cmd.Context(), args[0], vendors)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			printVerdict(c.out, v)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&vendors, "vendor", "v", nil, "restrict retrieval to these vendor ids (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	return cmd
}

func riskColor(level domain.RiskLevel) *color.Color {
	switch level {
	case domain.RiskHigh:
		return color.New(color.FgRed, color.Bold)
	case domain.RiskModerate:
		return color.New(color.FgYellow, color.Bold)
	case domain.RiskLow:
		return color.New(color.FgGreen, color.Bold)
	}
	return color.New(color.Faint)
}

func printVerdict(w io.Writer, v *domain.Verdict) {
	fmt.Fprint(w, "Risk level: ")
	riskColor(v.RiskLevel).Fprintln(w, v.RiskLevel)
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimSpace(v.Summary))
	if len(v.Evidence) == 0 {
		return
	}
	fmt.Fprintln(w)
	color.New(color.FgCyan).Fprintln(w, "Evidence:")
	for _, e := range v.Evidence {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

// ingester picks the in-process pipeline or, with remote, the NATS worker.
func (c *cli) ingester(ctx context.Context, remote bool) (*app.App, ingest.Ingester, error) {
	if !remote {
		a, err := c.open(ctx, app.WithoutNATS())
		if err != nil {
			return nil, nil, err
		}
		return a, a.Pipeline, nil
	}
	a, err := c.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	if a.NATS == nil {
		a.Close(context.Background())
		return nil, nil, errNoNATS
	}
	return a, ingest.NewClient(a.NATS, c.cfg.Ingest.ReplyTimeout), nil
}

func newProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (c *cli) ingestCmd() *cobra.Command {
	var (
		vendor string
		docID  string
		remote bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Chunk, embed and store documents for one vendor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if docID != "" && len(args) > 1 {
				return errors.New("--id can only be used with a single file")
			}
			a, ing, err := c.ingester(cmd.Context(), remote)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ok := color.New(color.FgGreen).SprintFunc()
			bad := color.New(color.FgRed).SprintFunc()
			var lines []string
			failed := 0

			bar := newProgressBar(cmd.ErrOrStderr(), len(args), "ingesting")
			for _, path := range args {
				if cmd.Context().Err() != nil {
					break
				}
				bar.Describe(color.BlueString("ingesting %s", filepath.Base(path)))
				id := docID
				if id == "" {
					id = uuid.NewString()
				}
				res, err := ingestOne(cmd.Context(), ing, path, id, vendor)
				bar.Add(1)
				if err != nil {
					failed++
					lines = append(lines, fmt.Sprintf("%s %s: %v", bad("✗"), path, err))
					continue
				}
				msg := fmt.Sprintf("%d chunks", res.Chunks)
				if res.Chunks == 0 && res.Message != "" {
					msg = res.Message
				}
				lines = append(lines, fmt.Sprintf("%s %s  %s  %s", ok("✓"), path, res.DocumentID, msg))
			}
			bar.Finish()
			fmt.Fprintln(cmd.ErrOrStderr())

			for _, l := range lines {
				fmt.Fprintln(c.out, l)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&vendor, "vendor", "v", "", "vendor id the documents belong to")
	cmd.Flags().StringVar(&docID, "id", "", "document id (single file only; re-using one replaces its chunks)")
	cmd.Flags().BoolVar(&remote, "remote", false, "send the work to the ingest worker over NATS")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func ingestOne(ctx context.Context, ing ingest.Ingester, path, id, vendor string) (ingest.Result, error) {
	if !ingest.Supported(path) {
		return ingest.Result{}, fmt.Errorf("unsupported file type (supported: %s)", strings.Join(ingest.SupportedExtensions(), ", "))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ingest.Result{}, err
	}
	return ing.Ingest(ctx, ingest.Request{
		FilePath:   abs,
		DocumentID: id,
		VendorID:   vendor,
		Filename:   filepath.Base(path),
	})
}

func (c *cli) deleteCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Remove every chunk of the given documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ing, err := c.ingester(cmd.Context(), remote)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			for _, id := range args {
				if err := ing.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(c.out, "Deleted %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "send the work to the ingest worker over NATS")
	return cmd
}

func (c *cli) vendorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vendors",
		Short: "List the vendor ids that have indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context(), app.WithoutNATS())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			vendors, err := semantic.DistinctVendors(cmd.Context(), a.Store, 0)
			if err != nil {
				return err
			}
			if len(vendors) == 0 {
				color.New(color.Faint).Fprintln(c.out, "no vendors indexed")
				return nil
			}
			for _, v := range vendors {
				fmt.Fprintln(c.out, v)
			}
			return nil
		},
	}
}

func (c *cli) collectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Manage the vector collection",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the collection if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context(), app.WithoutNATS(), app.WithoutEnsureCollection())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			dims := c.cfg.Embedding.Dimensions
			if err := a.Store.EnsureCollection(cmd.Context(), dims); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s collection %q ready (%s, %d dims)\n",
				color.GreenString("✓"), c.cfg.Vector.Collection, c.cfg.Vector.Backend, dims)
			return nil
		},
	})
	return cmd
}
