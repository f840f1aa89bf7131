package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

var errEmptyEndpoint = errors.New("s3 backup enabled but no endpoint configured")

// S3Options configures the optional off-site snapshot backup target.
type S3Options struct {
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string        `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string        `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool          `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string        `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string        `json:"region" mapstructure:"region"`
	Interval        time.Duration `json:"interval" mapstructure:"interval"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Enabled:    false,
		UseSSL:     true,
		BucketName: "meshwatch-snapshots",
		Region:     "us-east-1",
		Interval:   6 * time.Hour,
	}
}

func (o *S3Options) Validate() []error {
	errors := []error{}

	if o.Enabled && o.Endpoint == "" {
		errors = append(errors, errEmptyEndpoint)
	}

	return errors
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "s3.enabled", o.Enabled, "Enable periodic snapshot backup to S3-compatible storage")
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for snapshot backups")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.DurationVar(&o.Interval, "s3.interval", o.Interval, "Interval between snapshot backups")
}
