package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"payproof/models"
	"payproof/pkg/intake"
	"payproof/pkg/logger"
	"payproof/pkg/ocr"
	"payproof/pkg/ocr/tesseract"
	"payproof/pkg/payment"
	"payproof/process/export"
	"payproof/process/scan"
)

var (
	cfg *Config
	log *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "payproof",
		Short:         "Payment screenshot intake and transaction ID recognition",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = loadConfig(); err != nil {
				return err
			}
			if log, err = logger.New(cfg.Debug); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if !cfg.Debug {
				gin.SetMode(gin.ReleaseMode)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}
	root.AddCommand(
		newServeCmd(),
		newIntakeCmd(),
		newScanCmd(),
		newRecognizeCmd(),
		newExportCmd(),
		newSubmitCmd(),
		newTokenCmd(),
		newHashPasswordCmd(),
		newMigrateCmd(),
	)
	return root
}

func newPipeline() *ocr.Pipeline {
	p := ocr.NewPipeline(tesseract.New(), log.Named("ocr"))
	p.Options.TessdataPrefix = cfg.TessdataPrefix
	if len(cfg.OCRLanguages) > 0 {
		p.Options.Languages = cfg.OCRLanguages
	}
	return p
}

// runServer serves h on addr until SIGINT/SIGTERM, then shuts down gracefully.
func runServer(addr string, h http.Handler) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the payment API",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := initDB(cfg, log)
			if err != nil {
				return err
			}
			api := &paymentAPI{
				scanner:  newPipeline(),
				store:    payment.NewGormStore(gdb),
				log:      log,
				maxBytes: cfg.MaxUploadBytes,
			}
			if cfg.IntakeURL != "" {
				api.intake = intake.NewClient(cfg.IntakeURL)
			}
			if string(cfg.JWTSecret) == devJWTSecret {
				log.Warn("JWT_SECRET is not set, using the development secret")
			}
			r := newRouter(log, cfg.CORSOrigins)
			setupRoutes(r, api, cfg.JWTSecret)
			return runServer(cfg.APIAddr, r)
		},
	}
}

func newIntakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intake",
		Short: "Run the payment screenshot upload service",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := intake.NewStore(cfg.UploadDir)
			if err != nil {
				return err
			}
			if err := store.EnsureDir(); err != nil {
				return err
			}
			opts := []intake.Option{intake.WithMaxBytes(cfg.MaxUploadBytes)}
			if cfg.S3.Bucket != "" {
				m, err := intake.NewS3Mirror(cmd.Context(), cfg.S3, log.Named("mirror"))
				if err != nil {
					return err
				}
				opts = append(opts, intake.WithMirror(m))
			}
			var guard []gin.HandlerFunc
			if cfg.AdminPasswordHash != "" {
				guard = append(guard, adminGuard(cfg.AdminPasswordHash))
			} else {
				log.Warn("ADMIN_PASSWORD_HASH is not set; screenshot listing and retrieval are unauthenticated")
			}

			r := newRouter(log, cfg.CORSOrigins)
			intake.NewHandler(store, log.Named("intake"), opts...).RegisterRoutes(r, guard...)
			log.Info("upload directory ready", zap.String("dir", store.Dir()))
			return runServer(cfg.IntakeAddr, r)
		},
	}
}

func newScanCmd() *cobra.Command {
	var (
		dir     string
		workers int
		dryRun  bool
		watch   bool
		rescan  bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Recognize transaction IDs in stored screenshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = cfg.UploadDir
			}
			var sink scan.Sink
			if !dryRun {
				gdb, err := initDB(cfg, log)
				if err != nil {
					return err
				}
				sink = scan.NewGormSink(gdb)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := scan.New(newPipeline(), sink, scan.Options{Dir: dir, Workers: workers, DryRun: dryRun, Rescan: rescan}, log.Named("scan"))
			sum, err := s.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("scan finished",
				zap.Int("scanned", sum.Scanned),
				zap.Int("recognized", sum.Recognized),
				zap.Int("failed", sum.Failed),
				zap.Int("skipped", sum.Skipped))
			if watch && ctx.Err() == nil {
				return s.Watch(ctx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to scan (default UPLOAD_DIR)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default NumCPU)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "recognize and log only; no database")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching the directory for new screenshots")
	cmd.Flags().BoolVar(&rescan, "rescan", false, "scan files that already have a successful scan")
	return cmd
}

// newRecognizeCmd runs the pipeline on one file and prints what each stage saw.
func newRecognizeCmd() *cobra.Command {
	var saveTo string
	cmd := &cobra.Command{
		Use:   "recognize <image>",
		Short: "Debug transaction ID recognition on a single screenshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			if saveTo != "" {
				bin, err := ocr.Preprocess(data)
				if err != nil {
					return err
				}
				if err := os.WriteFile(saveTo, bin, 0o644); err != nil {
					return fmt.Errorf("save preprocessed image: %w", err)
				}
			}
			res := newPipeline().Scan(cmd.Context(), data)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status=%s transaction_id=%q rule=%s preprocessed=%v took=%s\n",
				res.Status, res.TransactionID, res.Rule, res.Preprocessed, res.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "text=%q\n", ocr.NormalizeText(res.Text))
			if res.Err != nil {
				fmt.Fprintf(out, "error=%v\n", res.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&saveTo, "save-preprocessed", "", "also write the binarized PNG here")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		out       string
		withScans bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all stored screenshot records to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := intake.NewStore(cfg.UploadDir)
			if err != nil {
				return err
			}
			recs, err := store.List(func(name string, err error) {
				log.Warn("skipping unreadable metadata", zap.String("file", name), zap.Error(err))
			})
			if err != nil {
				return err
			}
			var scans map[string]models.ScreenshotScan
			if withScans {
				gdb, err := initDB(cfg, log)
				if err != nil {
					return err
				}
				if scans, err = scan.NewGormSink(gdb).ByFile(cmd.Context()); err != nil {
					return err
				}
			}
			if err := export.WriteFile(out, recs, scans); err != nil {
				return err
			}
			log.Info("export written", zap.String("path", out), zap.Int("rows", len(recs)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "payment-screenshots.xlsx", "output file")
	cmd.Flags().BoolVar(&withScans, "with-scans", false, "add recognized transaction IDs from the database")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var (
		userID, email, method, txID, shot, intakeURL string
		amount                                       int64
		dryRun                                       bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a payment from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			form := payment.NewForm(newPipeline())
			form.SetMethod(method)
			form.SetAmount(amount)

			var data []byte
			if shot != "" {
				b, err := os.ReadFile(shot)
				if err != nil {
					return fmt.Errorf("read screenshot: %w", err)
				}
				data = b
				fmt.Fprintf(cmd.ErrOrStderr(), "status: %s\n", ocr.StatusProcessing)
				<-form.SelectScreenshot(ctx, data)
				res := form.LastResult()
				fmt.Fprintf(cmd.ErrOrStderr(), "status: %s", res.Status)
				if res.TransactionID != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), " transaction_id=%s rule=%s", res.TransactionID, res.Rule)
				}
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if txID != "" {
				form.SetTransactionID(txID)
			}
			if err := form.Validate(); err != nil {
				return err
			}
			if intakeURL == "" {
				intakeURL = cfg.IntakeURL
			}
			if intakeURL != "" && data != nil {
				resp, err := intake.NewClient(intakeURL).UploadFile(ctx, shot, mimeForPath(shot), userID, email, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "uploaded: %s\n", resp.FileName)
			}

			var store payment.RecordStore = printStore{}
			if !dryRun {
				gdb, err := initDB(cfg, log)
				if err != nil {
					return err
				}
				store = payment.NewGormStore(gdb)
			}
			sub, err := form.Submit(ctx, payment.Identity{UserID: userID, Email: email}, store)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sub)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&method, "method", "", "payment method ("+methodNames()+")")
	cmd.Flags().Int64Var(&amount, "amount", 0, "payment amount")
	cmd.Flags().StringVar(&shot, "screenshot", "", "path to the payment screenshot")
	cmd.Flags().StringVar(&txID, "transaction-id", "", "transaction ID (overrides the recognized one)")
	cmd.Flags().StringVar(&intakeURL, "intake-url", "", "upload the screenshot to this intake service (default INTAKE_URL)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the submission instead of writing it")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// printStore is the dry-run RecordStore.
type printStore struct{}

func (printStore) SavePayment(ctx context.Context, s payment.Submission) error { return nil }

func methodNames() string {
	var names []string
	for _, m := range payment.Methods() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return ""
}

func newTokenCmd() *cobra.Command {
	var (
		userID, email string
		ttl           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token for the payment API",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := mintToken(cfg.JWTSecret, userID, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pw string
			if len(args) == 1 {
				pw = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			h, err := hashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := openDB(cfg)
			if err != nil {
				return err
			}
			migrate(gdb, log)
			log.Info("migration completed")
			return nil
		},
	}
}
