// Package lambdaaws runs document batches on AWS Lambda. The handler mode
// materializes the requested documents into the function's tmp storage and
// mirrors them to S3; the invoker mode fans an input file out over async
// invocations.
package lambdaaws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"github.com/gosom/registre-express/bodacc"
	"github.com/gosom/registre-express/documents"
	"github.com/gosom/registre-express/downloader"
	"github.com/gosom/registre-express/entreprise"
	"github.com/gosom/registre-express/runner"
	"github.com/gosom/registre-express/s3uploader"
)

// lambdaTmpDir is the only writable path inside the function sandbox.
const lambdaTmpDir = "/tmp/uploads"

type lambdaRequest struct {
	BatchID string       `json:"batch_id"`
	Bucket  string       `json:"bucket"`
	Items   []lambdaItem `json:"items"`
}

type lambdaItem struct {
	DocType string `json:"doc_type"`
	Siren   string `json:"siren"`
	Siret   string `json:"siret,omitempty"`
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
}

type lambdaResponse struct {
	BatchID    string `json:"batch_id"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
}

type lambdaRunner struct {
	cfg *runner.Config
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeAwsLambda {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	return &lambdaRunner{cfg: cfg}, nil
}

func (l *lambdaRunner) Run(context.Context) error {
	lambda.Start(l.handle)

	return nil
}

func (l *lambdaRunner) Close(context.Context) error {
	return nil
}

func (l *lambdaRunner) handle(ctx context.Context, req lambdaRequest) (lambdaResponse, error) {
	if len(req.Items) == 0 {
		return lambdaResponse{}, errors.New("request has no items")
	}

	bucket := req.Bucket
	if bucket == "" {
		bucket = l.cfg.S3Bucket
	}

	if bucket == "" {
		return lambdaResponse{}, errors.New("an s3 bucket is required")
	}

	uploader, err := s3uploader.NewS3Uploader(l.cfg.AwsAccessKey, l.cfg.AwsSecretKey, l.cfg.AwsRegion)
	if err != nil {
		return lambdaResponse{}, err
	}

	materializer := documents.NewMaterializer(documents.Config{
		Insee: entreprise.NewInseeClient(entreprise.InseeConfig{
			ConsumerKey:    l.cfg.InseeConsumerKey,
			ConsumerSecret: l.cfg.InseeConsumerSecret,
		}),
		Inpi: entreprise.NewInpiClient(entreprise.InpiConfig{
			Token:      l.cfg.InpiToken,
			Username:   l.cfg.InpiUsername,
			Password:   l.cfg.InpiPassword,
			UseDemoEnv: l.cfg.InpiUseDemo,
		}),
		Bodacc:    bodacc.NewService(bodacc.Config{}),
		UploadDir: lambdaTmpDir,
		Uploader:  uploader,
		Bucket:    bucket,
	})

	items := make([]*downloader.Item, 0, len(req.Items))

	for _, it := range req.Items {
		docType, ok := documents.ParseDocType(it.DocType)
		if !ok {
			return lambdaResponse{}, fmt.Errorf("unknown document type %q", it.DocType)
		}

		items = append(items, downloader.NewItem(downloader.CartItem{
			ID:      uuid.New().String(),
			DocType: docType,
			Siren:   it.Siren,
			Siret:   it.Siret,
			Name:    it.Name,
			URL:     it.URL,
		}))
	}

	slog.Info("processing lambda batch", "batch_id", req.BatchID, "items", len(items), "bucket", bucket)

	summary, err := downloader.NewManager(materializer).Run(ctx, items, func(item *downloader.Item) {
		if item.Status == downloader.StatusError {
			slog.Warn("item failed",
				"batch_id", req.BatchID,
				"doc_type", item.DocType,
				"siren", item.Siren,
				"error", item.Error,
			)
		}
	})
	if err != nil {
		return lambdaResponse{}, err
	}

	return lambdaResponse{
		BatchID:    req.BatchID,
		Successful: summary.Successful,
		Failed:     summary.Failed,
	}, nil
}
