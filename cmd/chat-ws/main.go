package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/comprehend"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/urfave/cli/v2"

	chatcli "github.com/streamhive/chat-relay/chat-cli"
	chatddb "github.com/streamhive/chat-relay/chat-ddb"
	chatsecret "github.com/streamhive/chat-relay/chat-secret"
	chatws "github.com/streamhive/chat-relay/chat-ws"
	"github.com/streamhive/chat-relay/chat-ws/connectiondao"
	"github.com/streamhive/chat-relay/chat-ws/messagedao"
	"github.com/streamhive/chat-relay/moderation"
	"github.com/streamhive/chat-relay/publish"
)

var service = chatcli.NewService("chat-ws")

var opts struct {
	AnalyticsStream  string
	ModerationSecret string
	Concurrency      int
}

func main() {
	app := chatcli.App(
		service,
		action,
		append(
			chatcli.CommonFlags,
			append(
				chatddb.DDBFlags,
				chatcli.StringFlag("analytics-stream", "Kinesis stream for chat analytics events; empty disables publishing", &opts.AnalyticsStream),
				chatcli.StringFlag("moderation-secret", "Secrets Manager secret holding the moderation blocklist", &opts.ModerationSecret),
				&cli.IntFlag{
					Name:        "concurrency",
					Usage:       "max concurrent broadcast sends",
					Value:       50,
					EnvVars:     []string{"CONCURRENCY"},
					Destination: &opts.Concurrency,
				},
			)...,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	if chatcli.CommonOpts.Console {
		return fmt.Errorf("chat-ws only runs in lambda mode; the websocket transport has no console equivalent")
	}

	logger := chatcli.Logger(service)
	env := chatcli.CommonOpts.Env

	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := chatddb.DynamoDBAPI(sess)
	if err != nil {
		return fmt.Errorf("building dynamodb client: %w", err)
	}

	words := moderation.DefaultWords
	if opts.ModerationSecret != "" {
		var secret struct {
			BlockedWords []string `json:"blocked_words"`
		}
		if err := chatsecret.LoadSecret(sess, opts.ModerationSecret, &secret); err != nil {
			return err
		}
		words = secret.BlockedWords
	}
	blocklist, err := moderation.NewBlocklist(words)
	if err != nil {
		return err
	}

	metrics := chatcli.NewMetrics(service, cloudwatch.New(sess))

	handler := &chatws.Handler{
		Connections: connectiondao.Build(api, env),
		Messages:    messagedao.Build(api, env),
		Moderator: &moderation.Moderator{
			API:       comprehend.New(sess),
			Blocklist: blocklist,
			Logger:    logger,
		},
		Sender:      chatws.NewManagementAPISender(),
		Metrics:     &metrics,
		Logger:      logger,
		Concurrency: opts.Concurrency,
	}

	if opts.AnalyticsStream != "" {
		handler.Analytics = publish.New(kinesis.New(sess), opts.AnalyticsStream)
	}

	lambda.Start(handler.HandleEvent)
	return nil
}
