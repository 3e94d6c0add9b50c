// Package sqs adapts github.com/aws/aws-sdk-go's SQS client into a
// wflow.Puller, grounded on the teacher's components/sqs Initium.
package sqs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	svc "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	wflow "wflow"
)

// New builds a Puller that long-polls an SQS queue and deletes each
// message once it is received, before its body is decoded; a message
// whose body fails to decode is logged and dropped, not redelivered.
//
// Expected keys: region, queue_url, max_messages, wait_seconds,
// visibility_timeout.
func New(v *viper.Viper, logger *logrus.Logger) (wflow.Puller[map[string]interface{}], error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(v.GetString("region")))
	if err != nil {
		return nil, err
	}
	client := svc.New(sess)

	queueURL := v.GetString("queue_url")
	maxMessages := int64(v.GetInt("max_messages"))
	waitSeconds := int64(v.GetInt("wait_seconds"))
	visibilityTimeout := int64(v.GetInt("visibility_timeout"))

	pending := make([]*svc.Message, 0)

	return func(ctx context.Context) (map[string]interface{}, uint64, bool, error) {
		for len(pending) == 0 {
			attemptID := uuid.New().String()
			output, err := client.ReceiveMessageWithContext(ctx, &svc.ReceiveMessageInput{
				MaxNumberOfMessages:     &maxMessages,
				QueueUrl:                &queueURL,
				VisibilityTimeout:       &visibilityTimeout,
				WaitTimeSeconds:         &waitSeconds,
				ReceiveRequestAttemptId: &attemptID,
			})
			if err != nil {
				logger.Errorf("error reading from sqs - %v", err)
				return nil, 0, true, nil
			}
			if ctx.Err() != nil {
				return nil, 0, false, nil
			}
			pending = output.Messages
			if len(pending) == 0 {
				continue
			}
		}

		message := pending[0]
		pending = pending[1:]

		if _, err := client.DeleteMessageWithContext(ctx, &svc.DeleteMessageInput{
			QueueUrl:      &queueURL,
			ReceiptHandle: message.ReceiptHandle,
		}); err != nil {
			logger.Errorf("error deleting sqs message - %v", err)
		}

		payload := map[string]interface{}{}
		if err := json.Unmarshal([]byte(*message.Body), &payload); err != nil {
			logger.Errorf("error unmarshalling from sqs - %v", err)
			return nil, 0, true, nil
		}

		return payload, uint64(time.Now().UnixNano()), true, nil
	}, nil
}
