package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/repo"
	subentity "github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/entity"
)

func loadContent(cmd *cobra.Command, path, id string) (*entity.Content, error) {
	if path == "" {
		return nil, fmt.Errorf("--content is required")
	}
	catalog, err := repo.LoadFileCatalog(path)
	if err != nil {
		return nil, err
	}
	return catalog.GetContent(cmd.Context(), id)
}

func newEvaluateCommand() *cobra.Command {
	var (
		contentFile string
		country     string
		plan        string
		status      string
		at          string
	)
	cmd := &cobra.Command{
		Use:   "evaluate <content-id>",
		Short: "Evaluate entitlement for a content record from a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadContent(cmd, contentFile, args[0])
			if err != nil {
				return err
			}
			v := content.Viewer{CountryCode: country, Now: time.Now()}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				v.Now = t
			}
			if status != "" {
				v.Subscription = &subentity.State{PlanID: plan, Status: subentity.Status(strings.ToLower(status))}
			}
			d := content.Evaluate(c, v)
			reason := string(d.Reason)
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Content", "Allowed", "Reason"},
				[][]string{{c.ID, strconv.FormatBool(d.Allowed), reason}},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentFile, "content", "", "Catalog JSON file")
	cmd.Flags().StringVar(&country, "country", "", "Viewer country code")
	cmd.Flags().StringVar(&plan, "plan", "", "Subscription plan id")
	cmd.Flags().StringVar(&status, "status", "", "Subscription status (active, trialing, ...); empty means no subscription")
	cmd.Flags().StringVar(&at, "at", "", "Evaluation time, RFC3339 (default now)")
	return cmd
}

func newSelectCommand() *cobra.Command {
	var (
		contentFile string
		quality     string
		format      string
		subtitle    string
		audio       string
	)
	cmd := &cobra.Command{
		Use:   "select <content-id>",
		Short: "Show the stream bundle chosen for the given preferences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadContent(cmd, contentFile, args[0])
			if err != nil {
				return err
			}
			prefs := content.Preferences{SubtitleLang: subtitle, AudioLang: audio}
			if quality != "" {
				q, ok := entity.ParseQuality(quality)
				if !ok {
					return fmt.Errorf("unknown quality %q", quality)
				}
				prefs.Quality = q
			}
			if format != "" {
				f, ok := entity.ParseFormat(format)
				if !ok {
					return fmt.Errorf("unknown format %q", format)
				}
				prefs.Format = f
			}
			b, err := content.Select(c, prefs)
			if err != nil {
				return err
			}
			rows := [][]string{
				{"quality", string(b.Video.Quality)},
				{"format", string(b.Video.Format)},
				{"exact", strconv.FormatBool(b.Exact)},
				{"url", b.URL},
				{"encrypted", strconv.FormatBool(b.Video.IsEncrypted)},
				{"subtitle", "-"},
				{"audio", "-"},
			}
			if b.Subtitle != nil {
				rows[5][1] = b.Subtitle.LanguageCode
			}
			if b.Audio != nil {
				rows[6][1] = b.Audio.LanguageCode
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentFile, "content", "", "Catalog JSON file")
	cmd.Flags().StringVar(&quality, "quality", "", "Requested quality (480p, 720p, 1080p, 2160p)")
	cmd.Flags().StringVar(&format, "format", "", "Requested format (hls, dash, mp4)")
	cmd.Flags().StringVar(&subtitle, "subtitle", "", "Subtitle language code")
	cmd.Flags().StringVar(&audio, "audio", "", "Audio language code")
	return cmd
}
