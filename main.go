package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/visionkit-ai/go-visionkit/coco"
	"github.com/visionkit-ai/go-visionkit/inference"
)

const (
	// DefaultDetectionJSON is where raw detections are written when the
	// config file does not say otherwise.
	DefaultDetectionJSON = "detections.json"
	// DefaultSubmissionJSON is the final relabeled output path.
	DefaultSubmissionJSON = "submission.json"
)

func main() {
	var (
		configPath     string
		queryRoot      string
		referenceRoot  string
		detectionJSON  string
		submissionJSON string
		detectOnly     bool
		profile        bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the pipeline config file (JSON)")
	flag.StringVar(&queryRoot, "query-images", "", "Override the query image directory")
	flag.StringVar(&referenceRoot, "reference-images", "", "Override the reference image directory")
	flag.StringVar(&detectionJSON, "detections", "", "Override the detection output path")
	flag.StringVar(&submissionJSON, "submission", "", "Override the submission output path")
	flag.BoolVar(&detectOnly, "detect-only", false, "Stop after writing raw detections")
	flag.BoolVar(&profile, "profile", false, "Log a per-phase timing report after the run")
	flag.Parse()

	if configPath == "" {
		log.Fatal("missing required -config flag")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Error loading config %s: %v", configPath, err)
	}

	// Flag overrides win over the config file.
	if queryRoot != "" {
		cfg.QueryImageRoot = queryRoot
	}
	if referenceRoot != "" {
		cfg.ReferenceImageRoot = referenceRoot
	}
	if detectionJSON != "" {
		cfg.DetectionJSON = detectionJSON
	}
	if submissionJSON != "" {
		cfg.SubmissionJSON = submissionJSON
	}
	if cfg.DetectionJSON == "" {
		cfg.DetectionJSON = DefaultDetectionJSON
	}
	if cfg.SubmissionJSON == "" {
		cfg.SubmissionJSON = DefaultSubmissionJSON
	}
	if profile {
		cfg.Profile = true
	}

	fmt.Printf("Two-Stage Inference\n")
	fmt.Printf("=====================================\n")
	fmt.Printf("Config:        %s\n", configPath)
	fmt.Printf("Query images:  %s\n", cfg.QueryImageRoot)
	fmt.Printf("Detections:    %s\n", cfg.DetectionJSON)
	if !detectOnly {
		fmt.Printf("Reference:     %s\n", cfg.ReferenceImageRoot)
		fmt.Printf("Submission:    %s\n", cfg.SubmissionJSON)
	}
	fmt.Printf("=====================================\n")

	orch, err := inference.New(cfg)
	if err != nil {
		log.Fatalf("Error initializing pipeline: %v", err)
	}
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if detectOnly {
		err = runDetectOnly(ctx, orch, cfg.DetectionJSON)
	} else {
		err = orch.Run(ctx)
	}
	if err != nil {
		log.Fatalf("Error running pipeline: %v", err)
	}
}

func loadConfig(path string) (inference.Config, error) {
	var cfg inference.Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func runDetectOnly(ctx context.Context, orch *inference.Orchestrator, out string) error {
	detFile, err := orch.Detect(ctx)
	if err != nil {
		return err
	}
	if err := coco.WriteDetections(out, detFile); err != nil {
		return err
	}
	log.Printf("detections saved at %s", out)
	return nil
}
