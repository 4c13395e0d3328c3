package audit

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/firehose"
	"github.com/aws/aws-sdk-go/service/firehose/firehoseiface"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// RemoteConfig creates a configuration to create a RemoteLog.
type RemoteConfig struct {
	EC2Role           bool
	ID, Secret, Token string
	Region, Stream    string
}

type remoteLog struct {
	client firehoseiface.FirehoseAPI
	stream *string
	logger log.Logger
}

// newRemoteLog creates a Log that writes every entry to a firehose delivery
// stream.
func newRemoteLog(config *RemoteConfig, logger log.Logger) (Log, error) {
	if config.Stream == "" {
		return nil, errors.New("missing stream")
	}

	// If in EC2Role, attempt to get things from env or ec2role, else just use
	// static credentials...
	var creds *credentials.Credentials
	if config.EC2Role {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvProvider{},
			&ec2rolecreds.EC2RoleProvider{
				Client: ec2metadata.New(session.Must(session.NewSession())),
			},
		})
	} else {
		creds = credentials.NewStaticCredentials(
			config.ID,
			config.Secret,
			config.Token,
		)
	}
	if _, err := creds.Get(); err != nil {
		return nil, errors.Wrap(err, "invalid credentials")
	}

	cfg := aws.NewConfig().
		WithRegion(config.Region).
		WithCredentials(creds).
		WithCredentialsChainVerboseErrors(true)

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "session")
	}

	return newRemoteLogWithClient(firehose.New(sess), config.Stream, logger), nil
}

func newRemoteLogWithClient(client firehoseiface.FirehoseAPI, stream string, logger log.Logger) *remoteLog {
	return &remoteLog{
		client: client,
		stream: aws.String(stream),
		logger: logger,
	}
}

func (r *remoteLog) Append(entries []Entry) error {
	// fast exit
	if len(entries) == 0 {
		return nil
	}

	records := make([]*firehose.Record, len(entries))
	for k, v := range entries {
		records[k] = &firehose.Record{
			Data: row(v),
		}
	}

	input := &firehose.PutRecordBatchInput{
		DeliveryStreamName: r.stream,
		Records:            records,
	}

	output, err := r.client.PutRecordBatch(input)
	if err != nil {
		return err
	}
	if failed := aws.Int64Value(output.FailedPutCount); failed > 0 {
		level.Warn(r.logger).Log("state", "remote-put", "failed", failed)
	}
	return nil
}

// RemoteConfigOption defines a option for generating a RemoteConfig
type RemoteConfigOption func(*RemoteConfig) error

// BuildRemoteConfig ingests configuration options to then yield a
// RemoteConfig, and return an error if it fails during configuring.
func BuildRemoteConfig(opts ...RemoteConfigOption) (*RemoteConfig, error) {
	var config RemoteConfig
	for _, opt := range opts {
		err := opt(&config)
		if err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// WithEC2Role adds an EC2Role option to the configuration
func WithEC2Role(ec2Role bool) RemoteConfigOption {
	return func(config *RemoteConfig) error {
		config.EC2Role = ec2Role
		return nil
	}
}

// WithID adds an ID option to the configuration
func WithID(id string) RemoteConfigOption {
	return func(config *RemoteConfig) error {
		config.ID = id
		return nil
	}
}

// WithSecret adds an Secret option to the configuration
func WithSecret(secret string) RemoteConfigOption {
	return func(config *RemoteConfig) error {
		config.Secret = secret
		return nil
	}
}

// WithToken adds an Token option to the configuration
func WithToken(token string) RemoteConfigOption {
	return func(config *RemoteConfig) error {
		config.Token = token
		return nil
	}
}

// WithRegion adds an Region option to the configuration
func WithRegion(region string) RemoteConfigOption {
	return func(config *RemoteConfig) error {
		config.Region = region
		return nil
	}
}

// WithStream adds an Stream option to the configuration
func WithStream(stream string) RemoteConfigOption {
	return func(config *RemoteConfig) error {
		config.Stream = stream
		return nil
	}
}
