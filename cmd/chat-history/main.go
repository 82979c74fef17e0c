package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"

	chatcli "github.com/streamhive/chat-relay/chat-cli"
	chatddb "github.com/streamhive/chat-relay/chat-ddb"
	chatrest "github.com/streamhive/chat-relay/chat-rest"
	"github.com/streamhive/chat-relay/chat-ws/messagedao"
)

var service = chatcli.NewService("chat-history")

func main() {
	app := chatcli.App(
		service,
		action,
		append(
			chatcli.CommonFlags,
			append(
				chatddb.DDBFlags,
				chatcli.PortFlag(8080),
			)...,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	api, err := chatddb.DynamoDBAPI(sess)
	if err != nil {
		return fmt.Errorf("building dynamodb client: %w", err)
	}

	dao := messagedao.Build(api, chatcli.CommonOpts.Env)

	router := chi.NewRouter()
	chatrest.Middlewares(service, router)
	router.Get("/chat/{roomID}/messages", chatrest.CacheControl(chatrest.HistoryHandler(dao), 5))

	return chatrest.Webserver(service, router)
}
