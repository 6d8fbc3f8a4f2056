package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	filesink "github.com/usherasnick/bytestream/file-sink"
	"github.com/usherasnick/bytestream/readable"
	"github.com/usherasnick/bytestream/throttle"
)

func main() {
	in := flag.String("in", "", "input file, empty for stdin")
	out := flag.String("out", "", "output file, empty for stdout")
	rate := flag.Int64("rate", 0, "bytes per second, 0 for unlimited")
	encoding := flag.String("encoding", "", "decode input with the given encoding label")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	reader := os.Stdin
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			log.Fatal().Err(err).Str("file", *in).Msg("failed to open input")
		}
		defer f.Close()
		reader = f
	}

	var source readable.Source = readable.FromReader(reader)
	if *rate > 0 {
		source = throttle.NewSource(source, *rate)
	}

	stream, err := readable.New(source, &readable.Options{Encoding: *encoding})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stream")
	}
	defer stream.Stop()

	var sink *filesink.Sink
	if *out != "" {
		sink, err = filesink.NewSink(*out)
		if err != nil {
			log.Fatal().Err(err).Str("file", *out).Msg("failed to create sink")
		}
	} else {
		sink = filesink.Stdout()
	}

	done := make(chan struct{})
	stream.On(readable.EventError, func(args ...interface{}) {
		log.Error().Msgf("stream error: %v", args)
		close(done)
	})
	sink.On("finish", func(...interface{}) {
		close(done)
	})
	stream.Once(readable.EventEnd, func(...interface{}) {
		// 标准流不随源自动End, 这里显式收尾
		sink.End()
	})

	stream.Pipe(sink, nil)
	<-done
}
