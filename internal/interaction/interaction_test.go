package interaction_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/failure"
	"github.com/ncloudioj/gcp-ingestion/internal/interaction"
)

func attrs(namespace, docType string) event.Attributes {
	return event.Attributes{
		event.AttrDocumentNamespace: namespace,
		event.AttrDocumentType:      docType,
	}
}

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		namespace string
		docType   string
		payload   string
		typ       interaction.Type
		source    interaction.Source
		form      interaction.FormFactor
	}{
		{"contextual-services", "topsites-impression", `{}`, interaction.Impression, interaction.SourceTopSites, interaction.FormDesktop},
		{"contextual-services", "topsites-click", `{}`, interaction.Click, interaction.SourceTopSites, interaction.FormDesktop},
		{"contextual-services", "quicksuggest-impression", `{}`, interaction.Impression, interaction.SourceSuggest, interaction.FormDesktop},
		{"contextual-services", "quicksuggest-click", `{}`, interaction.Click, interaction.SourceSuggest, interaction.FormDesktop},
		{"org-mozilla-fenix", "topsites-impression", `{"events":[{"name":"contile_impression"}]}`, interaction.Impression, interaction.SourceTopSites, interaction.FormPhone},
		{"org-mozilla-firefox", "topsites-impression", `{"events":[{"name":"contile_click"}]}`, interaction.Click, interaction.SourceTopSites, interaction.FormPhone},
	}
	for _, tc := range cases {
		t.Run(tc.namespace+"/"+tc.docType, func(t *testing.T) {
			si, err := interaction.Classify(attrs(tc.namespace, tc.docType), []byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.namespace, si.OriginalNamespace)
			assert.Equal(t, tc.docType, si.OriginalDocType)
			assert.Equal(t, tc.typ, si.InteractionType)
			assert.Equal(t, tc.source, si.Source)
			assert.Equal(t, tc.form, si.FormFactor)
			assert.Empty(t, si.ReportingURL)
		})
	}
}

func TestClassifyRejectsUnknownPairs(t *testing.T) {
	pairs := [][2]string{
		{"contextual-services", "topsites-hover"},
		{"contextual-services", ""},
		{"org-mozilla-fenix", "topsites-click"},
		{"org-mozilla-fenix", "quicksuggest-impression"},
		{"telemetry", "main"},
	}
	for _, p := range pairs {
		t.Run(p[0]+"/"+p[1], func(t *testing.T) {
			payload := []byte(`{"events":[{"name":"contile_click"}]}`)
			for i := 0; i < 2; i++ {
				_, err := interaction.Classify(attrs(p[0], p[1]), payload)
				var ae *failure.InvalidAttributeError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, p[1], ae.Value)
			}
		})
	}
}

func TestClassifyMissingAttributes(t *testing.T) {
	_, err := interaction.Classify(event.Attributes{event.AttrDocumentType: "topsites-click"}, []byte(`{}`))
	var ae *failure.InvalidAttributeError
	require.ErrorAs(t, err, &ae)

	_, err = interaction.Classify(event.Attributes{event.AttrDocumentNamespace: "contextual-services"}, []byte(`{}`))
	require.ErrorAs(t, err, &ae)
}

func TestClassifyMalformedPayload(t *testing.T) {
	cases := []struct {
		name      string
		namespace string
		payload   string
	}{
		{"not json", "contextual-services", `{"reporting_url":`},
		{"json array", "contextual-services", `[1,2]`},
		{"mobile without events", "org-mozilla-fenix", `{}`},
		{"mobile with two events", "org-mozilla-fenix", `{"events":[{"name":"contile_click"},{"name":"contile_click"}]}`},
		{"mobile events not an array", "org-mozilla-fenix", `{"events":{"name":"contile_click"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := interaction.Classify(attrs(tc.namespace, "topsites-impression"), []byte(tc.payload))
			assert.True(t, errors.Is(err, failure.ErrMalformedPayload), "got %v", err)
		})
	}
}

func TestClassifyUnknownMobileEvent(t *testing.T) {
	_, err := interaction.Classify(attrs("org-mozilla-fenix", "topsites-impression"),
		[]byte(`{"events":[{"name":"contile_hover"}]}`))
	var ae *failure.InvalidAttributeError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "contile_hover", ae.Value)
}

func TestClassifyCapturesIdentifiers(t *testing.T) {
	si, err := interaction.Classify(attrs("contextual-services", "topsites-click"),
		[]byte(`{"context_id":"ctx-1","request_id":"req-9","reporting_url":"https://test.com"}`))
	require.NoError(t, err)
	require.NotNil(t, si.ContextID)
	require.NotNil(t, si.RequestID)
	assert.Equal(t, "ctx-1", *si.ContextID)
	assert.Equal(t, "req-9", *si.RequestID)

	si, err = interaction.Classify(attrs("contextual-services", "topsites-click"), []byte(`{"context_id":42}`))
	require.NoError(t, err)
	assert.Nil(t, si.ContextID)
	assert.Nil(t, si.RequestID)
}
