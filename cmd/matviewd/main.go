package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/conf"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/kafka/segment"
	log "github.com/matview-io/matview/logger"
	"github.com/matview-io/matview/parser"
	"github.com/matview-io/matview/planner"
)

type arguments struct {
	Statements  string        `help:"Path to a file containing the statements to run" type:"existingfile" required:""`
	Brokers     string        `help:"Kafka bootstrap servers" default:"localhost:9092"`
	Partitions  int           `help:"Partition count for internal topics" default:"4"`
	PollTimeout time.Duration `help:"Consumer poll timeout" default:"50ms"`
	Describe    bool          `help:"Print the query topology and exit without running"`
	Log         log.Config    `help:"Configuration for the logger" embed:"" prefix:"log-"`
}

func logErrorAndExit(msg string) {
	log.Errorf(msg)
	os.Exit(1)
}

func main() {
	defer common.PanicHandler()
	args := arguments{}
	kongParser, err := kong.New(&args)
	if err != nil {
		logErrorAndExit(err.Error())
	}
	if _, err := kongParser.Parse(os.Args[1:]); err != nil {
		logErrorAndExit(err.Error())
	}
	if err := args.Log.Configure(); err != nil {
		logErrorAndExit(err.Error())
	}
	if err := run(&args); err != nil {
		logErrorAndExit(err.Error())
	}
}

func run(args *arguments) error {
	input, err := os.ReadFile(args.Statements)
	if err != nil {
		return errors.WithStack(err)
	}
	statements, err := parser.ParseStatements(string(input))
	if err != nil {
		return err
	}
	cfg := &conf.Config{
		Partitions:  args.Partitions,
		PollTimeout: args.PollTimeout,
		ClientProps: map[string]string{
			"bootstrap.servers": args.Brokers,
		},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	pl := planner.NewPlanner(cfg, segment.NewMessageClientFactory(), segment.NewTopicAdmin(args.Brokers))
	topology, err := pl.Build(statements)
	if err != nil {
		return err
	}
	if args.Describe {
		fmt.Print(topology.Describe())
		return nil
	}
	if err := topology.Start(); err != nil {
		return err
	}
	log.Infof("queries running, press ctrl-c to stop")
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case sig := <-signals:
			log.Warnf("signal: %s received, stopping", sig.String())
			return topology.Stop()
		case <-ticker.C:
			if err := topology.Failure(); err != nil {
				_ = topology.Stop()
				return err
			}
		}
	}
}
