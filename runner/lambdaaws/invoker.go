package lambdaaws

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/google/uuid"

	"github.com/gosom/registre-express/runner"
)

// itemsPerInvocation keeps one invocation well under the lambda timeout
// with the registries' worst-case latency.
const itemsPerInvocation = 25

type invoker struct {
	cfg    *runner.Config
	client *lambda.Client
}

func NewInvoker(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeAwsLambdaInvoker {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	opts := []func(*config.LoadOptions) error{}

	if cfg.AwsRegion != "" {
		opts = append(opts, config.WithRegion(cfg.AwsRegion))
	}

	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		provider := credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(provider))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &invoker{
		cfg:    cfg,
		client: lambda.NewFromConfig(awsCfg),
	}, nil
}

func (i *invoker) Run(ctx context.Context) error {
	file, err := os.Open(i.cfg.InputFile)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	items, err := readItems(file)
	if err != nil {
		return fmt.Errorf("failed to read items: %w", err)
	}

	if len(items) == 0 {
		return fmt.Errorf("input file %s contains no items", i.cfg.InputFile)
	}

	runID := uuid.New().String()
	parts := chunkItems(items, itemsPerInvocation)

	slog.Info("invoking lambda batches",
		"function", i.cfg.AwsLambdaFunction,
		"items", len(items),
		"parts", len(parts),
	)

	for n, part := range parts {
		req := lambdaRequest{
			BatchID: fmt.Sprintf("%s-%d", runID, n),
			Bucket:  i.cfg.S3Bucket,
			Items:   part,
		}

		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		out, err := i.client.Invoke(ctx, &lambda.InvokeInput{
			FunctionName:   aws.String(i.cfg.AwsLambdaFunction),
			InvocationType: types.InvocationTypeEvent,
			Payload:        payload,
		})
		if err != nil {
			return fmt.Errorf("failed to invoke %s: %w", i.cfg.AwsLambdaFunction, err)
		}

		slog.Info("invoked part", "batch_id", req.BatchID, "items", len(part), "status", out.StatusCode)
	}

	return nil
}

func (i *invoker) Close(context.Context) error {
	return nil
}

// readItems parses one JSON item per line, skipping blanks and comments.
func readItems(r io.Reader) ([]lambdaItem, error) {
	var items []lambdaItem

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var item lambdaItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, fmt.Errorf("invalid item %q: %w", line, err)
		}

		items = append(items, item)
	}

	return items, scanner.Err()
}

func chunkItems(items []lambdaItem, size int) [][]lambdaItem {
	var chunks [][]lambdaItem

	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}

		chunks = append(chunks, items[start:end])
	}

	return chunks
}
