package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/candy-kiosk/internal/config"
	"github.com/kozaktomas/candy-kiosk/internal/facematch"
	"github.com/kozaktomas/candy-kiosk/internal/fingerprint"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <dir>",
	Short: "Register identities from a directory of photos",
	Long: `Register one identity per image file. The file name without extension is
the user id, e.g. alice.jpg registers "alice". The most confident face in each
photo is embedded by the embedding server and stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Int("concurrency", 4, "Number of photos embedded in parallel")
	enrollCmd.Flags().Int("max-size", 1280, "Downscale photos so the longer side is at most this many pixels")
	enrollCmd.Flags().Bool("overwrite", false, "Replace identities that are already registered")
}

var enrollExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

type enrollFile struct {
	path   string
	userID string
}

// collectEnrollFiles lists supported images in dir with their normalized user ids.
func collectEnrollFiles(dir string, minUserIDLen int) ([]enrollFile, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []enrollFile
	var skipped []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !slices.Contains(enrollExtensions, ext) {
			continue
		}
		userID, err := facematch.NormalizeUserID(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), minUserIDLen)
		if err != nil {
			skipped = append(skipped, e.Name())
			continue
		}
		files = append(files, enrollFile{path: filepath.Join(dir, e.Name()), userID: userID})
	}
	return files, skipped, nil
}

func embedFile(ctx context.Context, client *fingerprint.EmbeddingClient, path string, maxSize int) ([]float32, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's directory
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	img, err := fingerprint.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return client.Embed(ctx, fingerprint.ResizeImage(img, maxSize))
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	maxSize := mustGetInt(cmd, "max-size")
	overwrite := mustGetBool(cmd, "overwrite")

	files, skipped, err := collectEnrollFiles(args[0], cfg.Face.MinUserIDLen)
	if err != nil {
		return err
	}
	for _, name := range skipped {
		fmt.Printf("Skipping %s: user id must be at least %d characters\n", name, cfg.Face.MinUserIDLen)
	}
	if len(files) == 0 {
		fmt.Println("No photos to enroll.")
		return nil
	}

	client := fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Model)

	return withStores(func(ctx context.Context, st *stores) error {
		if !overwrite {
			var pending []enrollFile
			for _, f := range files {
				existing, err := st.identities.Get(ctx, f.userID)
				if err != nil {
					return fmt.Errorf("failed to check identity %s: %w", f.userID, err)
				}
				if existing == nil {
					pending = append(pending, f)
				}
			}
			if len(pending) == 0 {
				fmt.Println("All identities are already registered!")
				return nil
			}
			fmt.Printf("Photos to enroll: %d (skipping %d already registered)\n\n", len(pending), len(files)-len(pending))
			files = pending
		}

		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Enrolling faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)

		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			enrolled int
			failures []string
		)
		sem := make(chan struct{}, concurrency)

		for _, f := range files {
			wg.Add(1)
			go func(f enrollFile) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				err := enrollOne(ctx, client, st, f, maxSize)

				mu.Lock()
				if err != nil {
					failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(f.path), err))
				} else {
					enrolled++
				}
				mu.Unlock()
				_ = bar.Add(1)
			}(f)
		}
		wg.Wait()
		_ = bar.Finish()

		fmt.Printf("\n\nEnrolled: %d, failed: %d\n", enrolled, len(failures))
		slices.Sort(failures)
		for _, msg := range failures {
			fmt.Printf("  %s\n", msg)
		}
		return nil
	})
}

func enrollOne(ctx context.Context, client *fingerprint.EmbeddingClient, st *stores, f enrollFile, maxSize int) error {
	embedding, err := embedFile(ctx, client, f.path, maxSize)
	if errors.Is(err, fingerprint.ErrNoFace) {
		return errors.New("no face found")
	}
	if err != nil {
		return err
	}
	if err := st.identities.Upsert(ctx, f.userID, embedding); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
