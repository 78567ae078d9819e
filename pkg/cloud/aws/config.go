package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// StaticCredentialsConfiguration holds a fixed access key pair, for
// setups that don't use the SDK's default credential chain.
type StaticCredentialsConfiguration struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// ClientConfiguration contains the options that this codebase exposes
// for constructing AWS SDK clients.
type ClientConfiguration struct {
	Region            string                          `json:"region"`
	Endpoint          string                          `json:"endpoint"`
	StaticCredentials *StaticCredentialsConfiguration `json:"staticCredentials"`
}

// NewConfigFromConfiguration creates a new AWS SDK config object based
// on options specified in a client configuration message. The resulting
// config object can be used to access AWS services such as Kinesis.
func NewConfigFromConfiguration(configuration *ClientConfiguration) (aws.Config, error) {
	var loadOptions []func(*config.LoadOptions) error
	if configuration != nil {
		if region := configuration.Region; region != "" {
			loadOptions = append(loadOptions, config.WithRegion(region))
		}
		if endpoint := configuration.Endpoint; endpoint != "" {
			loadOptions = append(loadOptions, config.WithBaseEndpoint(endpoint))
		}
		if staticCredentials := configuration.StaticCredentials; staticCredentials != nil {
			loadOptions = append(loadOptions,
				config.WithCredentialsProvider(
					credentials.NewStaticCredentialsProvider(
						staticCredentials.AccessKeyID,
						staticCredentials.SecretAccessKey,
						"")))
		}
	}
	return config.LoadDefaultConfig(context.Background(), loadOptions...)
}
