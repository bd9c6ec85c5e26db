package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/gosom/registre-express/tlmt"
)

const posthogAPIKey = "phc_k5rbRoHulBGVvLvoCdSjRWWdeSDRSiekQbVebvJJaXq"

const (
	RunModeWeb = iota + 1
	RunModeBatch
	RunModeAwsLambda
	RunModeAwsLambdaInvoker
)

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type Config struct {
	RunMode    int
	Addr       string
	Dsn        string
	DataFolder string
	InputFile  string
	ConfigFile string
	LogLevel   string
	LogFormat  string

	Sources       []string
	SourceTimeout time.Duration
	MaxResults    int

	InseeConsumerKey    string
	InseeConsumerSecret string
	InpiToken           string
	InpiUsername        string
	InpiPassword        string
	InpiUseDemo         bool

	S3Bucket          string
	AwsRegion         string
	AwsAccessKey      string
	AwsSecretKey      string
	AwsLambdaFunction string

	DisableTelemetry bool
}

func ParseConfig() *Config {
	cfg := Config{}

	var (
		batchMode   bool
		lambdaMode  bool
		invokerMode bool
		sources     string
	)

	flag.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on [default: :8080]")
	flag.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string (empty uses the embedded sqlite store)")
	flag.StringVar(&cfg.DataFolder, "data-folder", "webdata", "folder for the sqlite store, the cart and downloaded documents")
	flag.StringVar(&cfg.InputFile, "input", "", "path to the input file with queries (one per line) [default: empty]")
	flag.StringVar(&cfg.ConfigFile, "config", "", "path to an optional YAML config file")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "log format: text or json")
	flag.StringVar(&sources, "sources", "", "comma separated search sources (local,insee,bodacc,inpi,gouv)")
	flag.DurationVar(&cfg.SourceTimeout, "source-timeout", 10*time.Second, "per source search timeout (e.g., '10s')")
	flag.IntVar(&cfg.MaxResults, "max-results", 20, "maximum merged search results")
	flag.StringVar(&cfg.S3Bucket, "s3-bucket", "", "S3 bucket mirroring downloaded documents (empty disables the mirror)")
	flag.StringVar(&cfg.AwsLambdaFunction, "function-name", "", "lambda function to invoke in invoker mode")
	flag.BoolVar(&batchMode, "batch", false, "run the file driven batch mode (requires -input)")
	flag.BoolVar(&lambdaMode, "aws-lambda", false, "run as an AWS Lambda document handler")
	flag.BoolVar(&invokerMode, "aws-lambda-invoker", false, "invoke the lambda handler for the items in -input")
	flag.BoolVar(&cfg.DisableTelemetry, "disable-telemetry", false, "disable anonymous usage telemetry")

	flag.Parse()

	cfg.InseeConsumerKey = os.Getenv("INSEE_CONSUMER_KEY")
	cfg.InseeConsumerSecret = os.Getenv("INSEE_CONSUMER_SECRET")
	cfg.InpiToken = os.Getenv("INPI_TOKEN")
	cfg.InpiUsername = os.Getenv("INPI_USERNAME")
	cfg.InpiPassword = os.Getenv("INPI_PASSWORD")
	cfg.InpiUseDemo = os.Getenv("INPI_USE_DEMO") == "true"
	cfg.AwsAccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.AwsSecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	cfg.AwsRegion = getEnvOrDefault("AWS_REGION", "eu-west-3")

	if os.Getenv("DISABLE_TELEMETRY") == "1" {
		cfg.DisableTelemetry = true
	}

	if cfg.ConfigFile != "" {
		set := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

		if err := cfg.applyFile(cfg.ConfigFile, set); err != nil {
			panic(err)
		}
	}

	if sources != "" {
		cfg.Sources = splitCSV(sources)
	}

	switch {
	case batchMode && (lambdaMode || invokerMode), lambdaMode && invokerMode:
		panic("only one of -batch, -aws-lambda, -aws-lambda-invoker may be set")
	case batchMode:
		cfg.RunMode = RunModeBatch
	case lambdaMode:
		cfg.RunMode = RunModeAwsLambda
	case invokerMode:
		cfg.RunMode = RunModeAwsLambdaInvoker
	default:
		cfg.RunMode = RunModeWeb
	}

	if cfg.RunMode == RunModeBatch && cfg.InputFile == "" {
		panic("InputFile must be provided in batch mode")
	}

	if cfg.RunMode == RunModeAwsLambdaInvoker && cfg.InputFile == "" {
		panic("InputFile must be provided in invoker mode")
	}

	if cfg.RunMode == RunModeAwsLambdaInvoker && cfg.AwsLambdaFunction == "" {
		panic("FunctionName must be provided in invoker mode")
	}

	if cfg.SourceTimeout <= 0 {
		panic("SourceTimeout must be greater than 0")
	}

	if cfg.MaxResults < 1 {
		panic("MaxResults must be greater than 0")
	}

	return &cfg
}

type fileConfig struct {
	Addr             string   `yaml:"addr"`
	Dsn              string   `yaml:"dsn"`
	DataFolder       string   `yaml:"dataFolder"`
	LogLevel         string   `yaml:"logLevel"`
	LogFormat        string   `yaml:"logFormat"`
	Sources          []string `yaml:"sources"`
	SourceTimeout    string   `yaml:"sourceTimeout"`
	MaxResults       int      `yaml:"maxResults"`
	S3Bucket         string   `yaml:"s3Bucket"`
	AwsRegion        string   `yaml:"awsRegion"`
	DisableTelemetry bool     `yaml:"disableTelemetry"`
}

// applyFile overlays YAML values onto the config. Flags the caller set
// explicitly win over the file; set carries their names.
func (c *Config) applyFile(path string, set map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if !set["addr"] && fc.Addr != "" {
		c.Addr = fc.Addr
	}

	if !set["dsn"] && fc.Dsn != "" {
		c.Dsn = fc.Dsn
	}

	if !set["data-folder"] && fc.DataFolder != "" {
		c.DataFolder = fc.DataFolder
	}

	if !set["log-level"] && fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}

	if !set["log-format"] && fc.LogFormat != "" {
		c.LogFormat = fc.LogFormat
	}

	if !set["sources"] && len(fc.Sources) > 0 {
		c.Sources = fc.Sources
	}

	if !set["source-timeout"] && fc.SourceTimeout != "" {
		d, err := time.ParseDuration(fc.SourceTimeout)
		if err != nil {
			return fmt.Errorf("parse config: sourceTimeout: %w", err)
		}

		c.SourceTimeout = d
	}

	if !set["max-results"] && fc.MaxResults > 0 {
		c.MaxResults = fc.MaxResults
	}

	if !set["s3-bucket"] && fc.S3Bucket != "" {
		c.S3Bucket = fc.S3Bucket
	}

	if fc.AwsRegion != "" && os.Getenv("AWS_REGION") == "" {
		c.AwsRegion = fc.AwsRegion
	}

	if !set["disable-telemetry"] && fc.DisableTelemetry {
		c.DisableTelemetry = true
	}

	return nil
}

// Telemetry builds the shared usage telemetry client, honoring the opt-out.
func Telemetry(cfg *Config) tlmt.Telemetry {
	return tlmt.New(posthogAPIKey, cfg.DisableTelemetry)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(0)
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		lineWidth := runewidth.StringWidth(line)
		paddingRight := contentWidth - lineWidth

		if paddingRight < 0 {
			paddingRight = 0
		}

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

func Banner() {
	message1 := "🏛️  RegistreExpress - French company registry aggregator"
	message2 := "⭐ If you find this project useful, please star it on GitHub: https://github.com/gosom/registre-express"
	message3 := "💖 Consider sponsoring to support development: https://github.com/sponsors/gosom"

	fmt.Fprintln(os.Stderr, banner([]string{message1, message2, message3}, 0))
}
