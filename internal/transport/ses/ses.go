// Package ses implements a Transport that submits reports through the AWS
// SES v2 API.
package ses

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sirupsen/logrus"

	"github.com/infosec-automation/compliance-mailer/internal/email"
)

// Config holds the configuration for creating a Transport.
type Config struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

// SendEmailAPI is the subset of the SES v2 client used by Transport.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport sends reports via SES. Messages with attachments go out as raw
// MIME, the rest as SES simple content.
type Transport struct {
	client           SendEmailAPI
	configurationSet string
	log              *logrus.Entry
}

// New loads the default AWS configuration chain. Static keys, when both are
// set, take precedence over the chain.
func New(ctx context.Context, cfg Config, log *logrus.Entry) (*Transport, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	t := NewWithClient(sesv2.NewFromConfig(awsCfg), log)
	t.configurationSet = cfg.ConfigurationSet
	return t, nil
}

// NewWithClient creates a Transport around an existing client.
func NewWithClient(client SendEmailAPI, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{client: client, log: log.WithField("transport", "ses")}
}

// Send submits msg in a single SendEmail call. The destination is the
// deduplicated union of To, Cc and Bcc.
func (t *Transport) Send(ctx context.Context, msg *email.Email) error {
	var input *sesv2.SendEmailInput
	if len(msg.Attachments) > 0 {
		var buf bytes.Buffer
		if err := email.WriteMIME(&buf, msg); err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(msg.From),
			Destination:      &types.Destination{ToAddresses: msg.Recipients()},
			Content:          &types.EmailContent{Raw: &types.RawMessage{Data: buf.Bytes()}},
		}
	} else {
		input = buildSimpleInput(msg)
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES SendEmail failed: %w", err)
	}

	t.log.WithField("ses_message_id", aws.ToString(out.MessageId)).Debug("SES accepted message")
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "ses"
}

func buildSimpleInput(msg *email.Email) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HtmlBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HtmlBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	simple := &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
		Body:    body,
	}
	for _, name := range sortedHeaderNames(msg.Headers) {
		simple.Headers = append(simple.Headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(msg.Headers[name]),
		})
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{Simple: simple},
	}
}

func sortedHeaderNames(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
