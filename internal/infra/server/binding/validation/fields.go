package validation

import (
	"github.com/gin-gonic/gin/binding"

	"github.com/datalode/ledgersync/internal/domain/stream"

	"github.com/rs/zerolog/log"
	"gopkg.in/go-playground/validator.v9"
)

func SetUpValidators() {
	log.Info().Msg("Setting up custom validators")
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation(StreamNameValidatorTag, StreamNameValidator)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up stream name validator")
		}
	}
}

var StreamNameValidatorTag = "streamName"
var StreamNameValidator validator.Func = func(fl validator.FieldLevel) bool {
	streamName, ok := fl.Field().Interface().(stream.Name)
	if ok {
		if _, err := stream.NameFromString(string(streamName)); err != nil {
			fl.Field()
			return false
		}
	}
	return true
}
