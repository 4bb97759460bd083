package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/datalode/ledgersync/internal/infra/elasticsearch/common"
	cursorIndex "github.com/datalode/ledgersync/internal/infra/elasticsearch/cursor"
	datasetIndex "github.com/datalode/ledgersync/internal/infra/elasticsearch/dataset"
	licenseIndex "github.com/datalode/ledgersync/internal/infra/elasticsearch/license"
	reconcileIndex "github.com/datalode/ledgersync/internal/infra/elasticsearch/reconcile"
	verificationIndex "github.com/datalode/ledgersync/internal/infra/elasticsearch/verification"
)

type TemplateName string
type Pattern = string
type Json = map[string]interface{}
type Mappings = map[string]interface{}

// Template defines a template to be applied when setup is run
type Template struct {
	name     TemplateName // ignored when serialising because the name doesn't start with a capital
	Patterns []Pattern    `json:"index_patterns"`
	Mappings Mappings     `json:"mappings,omitempty"`
}

func (t *Template) Name() TemplateName {
	return t.name
}

func NewTemplate(name TemplateName, patterns []Pattern, mappings Mappings) Template {
	return Template{name: name, Patterns: patterns, Mappings: mappings}
}

// TemplatesSetup holds a list of Templates and has the ability to actually
// send them to the server
type TemplatesSetup struct {
	esClient  *elasticsearch.Client
	Templates []Template
}

// Returns the default Template setter upper
func DefaultTemplateSetup(esClient *elasticsearch.Client) TemplatesSetup {
	return TemplatesSetup{
		esClient: esClient,
		Templates: []Template{
			CursorsTemplate,
			DatasetsTemplate,
			LicensesTemplate,
			OrphanedTransitionsTemplate,
			VerificationJobsTemplate,
		},
	}
}

// Runs the setup
func (s *TemplatesSetup) Run(ctx context.Context) error {
	var errors []error
	for _, template := range s.Templates {
		if err := s.putTemplate(ctx, &template); err != nil {
			errors = append(errors, err)
		}
	}
	if len(errors) != 0 {
		return PutTemplateErrors{Errors: errors}
	} else {
		return nil
	}
}

// Checks if the current TemplatesSetup was run.
//
// This is currently a shallow check for template presence only.
func (s *TemplatesSetup) Check(ctx context.Context) error {
	indexTemplateNames := make([]string, 0, len(s.Templates))
	for _, t := range s.Templates {
		indexTemplateNames = append(indexTemplateNames, string(t.Name()))
	}

	indexTemplatesGetReq := esapi.IndicesGetTemplateRequest{Name: indexTemplateNames}

	rawResp, err := indexTemplatesGetReq.Do(context.Background(), s.esClient)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		var mappings map[string]interface{}
		if err = json.NewDecoder(rawResp.Body).Decode(&mappings); err != nil {
			return common.JsonSerdesErr{Underlying: []error{err}}
		}
		var notPresent []string
		for _, name := range indexTemplateNames {
			if _, ok := mappings[name]; !ok {
				notPresent = append(notPresent, name)
			}
		}
		if len(notPresent) != 0 {
			return TemplatesNotInstalled{NotInstalled: notPresent}
		} else {
			return nil
		}
	case 404:
		return TemplatesNotInstalled{NotInstalled: indexTemplateNames}
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

func (s *TemplatesSetup) putTemplate(ctx context.Context, t *Template) error {
	asBytes, err := json.Marshal(t)
	log.Info().RawJSON("body", asBytes).Str("template_name", string(t.name)).Msg("Applying template")
	if err != nil {
		return common.JsonSerdesErr{Underlying: []error{err}}
	}
	putTemplateReq := esapi.IndicesPutTemplateRequest{
		Body: bytes.NewReader(asBytes),
		Name: string(t.name),
	}
	rawResp, err := putTemplateReq.Do(ctx, s.esClient)
	if err != nil {
		return common.ElasticsearchErr{Underlying: err}
	}
	defer rawResp.Body.Close()
	switch rawResp.StatusCode {
	case 200:
		return nil
	default:
		return common.UnexpectedEsStatusError(rawResp)
	}
}

type PutTemplateErrors struct {
	Errors []error
}

func (e PutTemplateErrors) Error() string {
	return fmt.Sprintf("Errors encountered [%v]", e.Errors)
}

type TemplatesNotInstalled struct {
	NotInstalled []string
}

func (t TemplatesNotInstalled) Error() string {
	return fmt.Sprintf("One or more app index templates were not installed. Please run the setup command to install them [%v]", t.NotInstalled)
}

// Templates

var metadataMapping = Json{
	"properties": Json{
		"created_at": Json{
			"type": "date",
		},
		"modified_at": Json{
			"type": "date",
		},
	},
}

// Just sets source to enabled and dynamic to true since we own this
var CursorsTemplate = NewTemplate(
	".ledgersync_cursors_index_template",
	[]Pattern{Pattern(cursorIndex.IndexName)},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": true,
		"properties": Json{
			"stream": Json{
				"type": "keyword",
			},
			"position": Json{
				"type": "keyword",
			},
			"seq": Json{
				"type": "long",
			},
			"metadata": metadataMapping,
		},
	},
)

// Datasets template (disables dynamic for the free-form verification blob
// to prevent mapping conflicts and mapping explosions)
var DatasetsTemplate = NewTemplate(
	".ledgersync_datasets_index_template",
	[]Pattern{Pattern(datasetIndex.IndexName)},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": true, // We use persistence models anyways, so we can make sure mappings don't  get out of hand
		"properties": Json{
			"content": Json{
				"type": "keyword",
			},
			"owner": Json{
				"type": "keyword",
			},
			"name": Json{
				"type": "text",
				"fields": Json{
					"keyword": Json{
						"type":         "keyword",
						"ignore_above": 256,
					},
				},
			},
			"size_bytes": Json{
				"type": "long",
			},
			"metadata_uri": Json{
				"type": "keyword",
			},
			"registered_at": Json{
				"type": "date",
			},
			"verified": Json{
				"type": "boolean",
			},
			"verified_at": Json{
				"type": "date",
			},
			"verification": Json{
				"type":    "object",
				"enabled": false, // free-form JSON from the verifier doesn't get indexed to prevent explosions
			},
			"metadata": metadataMapping,
		},
	},
)

var LicensesTemplate = NewTemplate(
	".ledgersync_licenses_index_template",
	[]Pattern{Pattern(licenseIndex.IndexName)},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": true,
		"properties": Json{
			"dataset": Json{
				"type": "keyword",
			},
			"licensee": Json{
				"type": "keyword",
			},
			"license_type": Json{
				"type": "keyword",
			},
			"issued_at": Json{
				"type": "date",
			},
			"expires_at": Json{
				"type": "date",
			},
			"revoked": Json{
				"type": "boolean",
			},
			"revoked_at": Json{
				"type": "date",
			},
			"revoked_by": Json{
				"type": "keyword",
			},
			"revoke_reason": Json{
				"type": "text",
			},
			"metadata": metadataMapping,
		},
	},
)

var OrphanedTransitionsTemplate = NewTemplate(
	".ledgersync_orphaned_transitions_index_template",
	[]Pattern{Pattern(reconcileIndex.IndexName)},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": true,
		"properties": Json{
			"stream": Json{
				"type": "keyword",
			},
			"target": Json{
				"type": "keyword",
			},
			"kind": Json{
				"type": "keyword",
			},
			"at": Json{
				"type": "date",
			},
			"first_seen_at": Json{
				"type": "date",
			},
			"attempts": Json{
				"type": "long",
			},
			"escalated": Json{
				"type": "boolean",
			},
			"metadata": metadataMapping,
		},
	},
)

// Verification jobs template (disables dynamic for the user-facing result
// blob to prevent mapping conflicts and mapping explosions)
var VerificationJobsTemplate = NewTemplate(
	".ledgersync_verification_jobs_index_template",
	[]Pattern{Pattern(verificationIndex.IndexName)},
	Mappings{
		"_source": Json{
			"enabled": true,
		},
		"dynamic": true, // We use persistence models anyways, so we can make sure mappings don't  get out of hand
		"properties": Json{
			"user_id": Json{
				"type": "keyword",
			},
			"input": Json{
				"type": "keyword",
			},
			"state": Json{
				"type": "keyword",
			},
			"execution_timeout": Json{
				"type": "long",
			},
			"result": Json{
				"type":    "object",
				"enabled": false, // free-form JSON from verifiers don't get indexed to prevent explosions
			},
			"error": Json{
				"type": "text",
			},
			"claimed_by": Json{
				"type": "keyword",
			},
			"times_out_at": Json{
				"type": "date",
			},
			"created_at": Json{
				"type": "date",
			},
			"started_at": Json{
				"type": "date",
			},
			"completed_at": Json{
				"type": "date",
			},
			"metadata": metadataMapping,
		},
	},
)
