package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cenkalti/gscluster"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid value for %s: %v", key, err)
	}
	return n
}

func main() {
	// Load .env file if there is one
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	// Set configuration for the gscluster package
	gscluster.Config.SiteURL = getenv("GSC_SITE_URL", "")
	gscluster.Config.ClientSecretFile = getenv("GSC_CLIENT_SECRET_FILE", "client_secret.json")
	gscluster.Config.TokenDB = getenv("GSC_TOKEN_DB", "credentials.db")
	gscluster.Config.RedirectPort = getenvInt("GSC_REDIRECT_PORT", 55875)
	gscluster.Config.PathContains = getenv("GSC_PATH_CONTAINS", "/blog/")
	gscluster.Config.RowLimit = getenvInt("GSC_ROW_LIMIT", 3000)
	gscluster.Config.StopwordsLanguage = getenv("GSC_STOPWORDS_LANGUAGE", "spanish")
	gscluster.Config.APIBaseURL = getenv("GSC_API_BASE_URL", gscluster.DefaultAPIBaseURL)

	var verbose bool
	rootCmd := &cobra.Command{
		Use:           "gscluster",
		Short:         "Search Console URL clustering and spreadsheet export",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var logger *zap.Logger
			var err error
			if verbose {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging with debug output")

	// Add all commands from the gscluster package
	rootCmd.AddCommand(gscluster.LoginCmd)
	rootCmd.AddCommand(gscluster.FetchReportCmd)
	rootCmd.AddCommand(gscluster.ExportCmd)
	rootCmd.AddCommand(gscluster.ServeCmd)
	rootCmd.AddCommand(cleanCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		zap.L().Error("Command failed", zap.Error(err))
		log.Fatal(err)
	}
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove generated spreadsheets",
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("out")
		files, _ := filepath.Glob(filepath.Join(dir, "consulta-*-to-*.xlsx"))
		served, _ := filepath.Glob(filepath.Join(dir, "export-*", "consulta-*-to-*.xlsx"))
		for _, file := range append(files, served...) {
			if err := os.Remove(file); err != nil {
				zap.L().Warn("Failed to remove spreadsheet", zap.String("file", file), zap.Error(err))
				continue
			}
			zap.L().Info("Removed spreadsheet", zap.String("file", file))
		}

		// Directories left by serve; only empty ones are removed.
		dirs, _ := filepath.Glob(filepath.Join(dir, "export-*"))
		for _, d := range dirs {
			if err := os.Remove(d); err != nil {
				zap.L().Warn("Failed to remove export directory", zap.String("dir", d), zap.Error(err))
			}
		}
	},
}

func init() {
	cleanCmd.Flags().String("out", ".", "directory holding generated spreadsheets")
}
