package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
)

// KinesisClient is an interface around the AWS SDK Kinesis client. It
// has been added to aid unit testing.
type KinesisClient interface {
	ListShards(ctx context.Context, params *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
}

var _ KinesisClient = &kinesis.Client{}
