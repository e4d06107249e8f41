package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/liamcoop/creditapproval/internal/logger"
	"github.com/liamcoop/creditapproval/model"
	"github.com/liamcoop/creditapproval/synth"
)

var (
	name    = "credit-train"
	version = "v0.0.1-default"
)

type trainOptions struct {
	Samples    int
	Seed       uint64
	TestSize   float64
	LabelRule  string
	DataPath   string
	ModelPath  string
	ScalerPath string
	Forest     model.ForestParams
}

type trainResult struct {
	Bundle       *model.Bundle
	Metrics      model.Metrics
	TestAccuracy float64
	TrainRows    int
	TestRows     int
}

var (
	samplesFlag = &cli.IntFlag{
		Name:  "samples",
		Usage: "Number of synthetic applicants to generate",
		Value: 1000,
	}
	seedFlag = &cli.Uint64Flag{
		Name:  "seed",
		Usage: "Seed for data generation, splitting and tree fitting",
		Value: 42,
	}
	testSizeFlag = &cli.Float64Flag{
		Name:  "test-size",
		Usage: "Share of rows held out for evaluation",
		Value: 0.2,
	}
	labelRuleFlag = &cli.StringFlag{
		Name:  "label-rule",
		Usage: "CEL expression that approves a synthetic applicant",
		Value: synth.DefaultLabelRule,
	}
	dataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "CSV file with a labeled dataset (optional, synthetic data is generated when empty)",
	}
	modelPathFlag = &cli.StringFlag{
		Name:    "model-path",
		Usage:   "Where to write the classifier artifact",
		Value:   "models_trained/credit_model.gob",
		EnvVars: []string{"MODEL_PATH"},
	}
	scalerPathFlag = &cli.StringFlag{
		Name:    "scaler-path",
		Usage:   "Where to write the scaler artifact",
		Value:   "models_trained/scaler.yaml",
		EnvVars: []string{"SCALER_PATH"},
	}
	estimatorsFlag = &cli.IntFlag{
		Name:  "estimators",
		Usage: "Number of trees in the forest",
		Value: model.DefaultForestParams().NEstimators,
	}
	maxDepthFlag = &cli.IntFlag{
		Name:  "max-depth",
		Usage: "Maximum tree depth",
		Value: model.DefaultForestParams().MaxDepth,
	}
	minSamplesSplitFlag = &cli.IntFlag{
		Name:  "min-samples-split",
		Usage: "Minimum rows required to split a node",
		Value: model.DefaultForestParams().MinSamplesSplit,
	}
	minSamplesLeafFlag = &cli.IntFlag{
		Name:  "min-samples-leaf",
		Usage: "Minimum rows in each leaf",
		Value: model.DefaultForestParams().MinSamplesLeaf,
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "TRACE, DEBUG, INFO, WARN or ERROR",
		Value:   "INFO",
		EnvVars: []string{"LOG_LEVEL"},
	}
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		logger.Fatal("training failed", "error", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:     name,
		Version:  version,
		Compiled: time.Now(),
		Usage:    "Train the credit approval model and write its artifacts",
		Flags: []cli.Flag{
			samplesFlag,
			seedFlag,
			testSizeFlag,
			labelRuleFlag,
			dataFlag,
			modelPathFlag,
			scalerPathFlag,
			estimatorsFlag,
			maxDepthFlag,
			minSamplesSplitFlag,
			minSamplesLeafFlag,
			logLevelFlag,
		},
		Action: trainAction,
	}
}

func trainAction(c *cli.Context) error {
	log, err := logger.Setup(c.Context, logger.Options{Level: c.String(logLevelFlag.Name)})
	if err != nil {
		log.Warn("invalid log level", "error", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := model.DefaultForestParams()
	params.NEstimators = c.Int(estimatorsFlag.Name)
	params.MaxDepth = c.Int(maxDepthFlag.Name)
	params.MinSamplesSplit = c.Int(minSamplesSplitFlag.Name)
	params.MinSamplesLeaf = c.Int(minSamplesLeafFlag.Name)
	params.Seed = c.Uint64(seedFlag.Name)

	_, err = train(ctx, trainOptions{
		Samples:    c.Int(samplesFlag.Name),
		Seed:       c.Uint64(seedFlag.Name),
		TestSize:   c.Float64(testSizeFlag.Name),
		LabelRule:  c.String(labelRuleFlag.Name),
		DataPath:   c.String(dataFlag.Name),
		ModelPath:  c.String(modelPathFlag.Name),
		ScalerPath: c.String(scalerPathFlag.Name),
		Forest:     params,
	}, log)
	return err
}

func train(ctx context.Context, opts trainOptions, log *slog.Logger) (*trainResult, error) {
	ds, err := loadDataset(opts, log)
	if err != nil {
		return nil, err
	}

	pos := ds.Positives()
	log.Info("data distribution",
		"rows", ds.Len(),
		"approved", pos,
		"rejected", ds.Len()-pos,
		"approval_rate", float64(pos)/float64(ds.Len()),
	)

	trainSet, testSet, err := synth.Split(ds, opts.TestSize, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to split dataset: %w", err)
	}
	log.Info("dataset split", "train_rows", trainSet.Len(), "test_rows", testSet.Len())

	start := time.Now()
	bundle, metrics, err := model.Train(ctx, trainSet.X, trainSet.Y, trainSet.FeatureNames, opts.Forest)
	if err != nil {
		return nil, err
	}
	log.Info("model trained",
		"bundle_id", bundle.ID,
		"train_accuracy", metrics.TrainAccuracy,
		"n_features", metrics.NFeatures,
		"n_estimators", metrics.NEstimators,
		"took", time.Since(start).String(),
	)

	testAccuracy, err := model.Evaluate(model.NewEngine(bundle), testSet.X, testSet.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate model: %w", err)
	}
	log.Info("model evaluated", "test_accuracy", testAccuracy)

	if err := model.Save(bundle, opts.ModelPath, opts.ScalerPath); err != nil {
		return nil, err
	}
	log.Info("artifacts saved", "model_path", opts.ModelPath, "scaler_path", opts.ScalerPath)

	return &trainResult{
		Bundle:       bundle,
		Metrics:      metrics,
		TestAccuracy: testAccuracy,
		TrainRows:    trainSet.Len(),
		TestRows:     testSet.Len(),
	}, nil
}

func loadDataset(opts trainOptions, log *slog.Logger) (*synth.Dataset, error) {
	if opts.DataPath != "" {
		f, err := os.Open(opts.DataPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open dataset: %w", err)
		}
		defer f.Close()

		ds, err := synth.ReadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset %s: %w", opts.DataPath, err)
		}
		log.Info("dataset loaded", "path", opts.DataPath)
		return ds, nil
	}

	labeler, err := synth.NewLabeler(opts.LabelRule, model.DefaultFeatureNames)
	if err != nil {
		return nil, fmt.Errorf("invalid label rule: %w", err)
	}

	ds, err := synth.Generate(opts.Samples, opts.Seed, labeler)
	if err != nil {
		return nil, err
	}
	log.Info("synthetic data generated", "samples", opts.Samples, "label_rule", labeler.Expression())
	return ds, nil
}
