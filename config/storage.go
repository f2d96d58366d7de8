package config

import "strings"

// ObjectStoreConfig contains S3-compatible object storage configuration for
// job template and recipient payloads.
type ObjectStoreConfig struct {
	EndpointURL     string `env:"ENDPOINT_URL"      envDefault:"http://localhost:9000"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Bucket          string `env:"BUCKET"            envDefault:"herald-payloads"`
	Region          string `env:"REGION"            envDefault:""`
	UseSSL          bool   `env:"USE_SSL"           envDefault:"false"`
	// EnsureBucketOnStart controls whether the bucket is created during startup.
	EnsureBucketOnStart bool `env:"ENSURE_BUCKET_ON_START" envDefault:"true"`
}

// Sanitize normalises object store configuration values.
func (c *ObjectStoreConfig) Sanitize() {
	c.EndpointURL = strings.TrimSpace(c.EndpointURL)
	c.Bucket = strings.TrimSpace(c.Bucket)
}

// DispatchConfig contains configuration for the downstream delivery pipeline.
type DispatchConfig struct {
	// Endpoint is the submit URL of the delivery pipeline.
	Endpoint string `env:"ENDPOINT"`

	// APIToken is the optional bearer token sent with each submission.
	APIToken string `env:"API_TOKEN"`

	// MessageIDPath is the JMESPath expression locating the assigned message
	// id in the pipeline's response body.
	MessageIDPath string `env:"MESSAGE_ID_PATH" envDefault:"messageId"`
}

// Sanitize normalises dispatch configuration values.
func (c *DispatchConfig) Sanitize() {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.MessageIDPath = strings.TrimSpace(c.MessageIDPath)
	if c.MessageIDPath == "" {
		c.MessageIDPath = "messageId"
	}
}
