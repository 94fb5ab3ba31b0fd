// Package interaction classifies contextual-services pings into sponsored
// interactions.
package interaction

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/failure"
)

type FormFactor string

const (
	FormDesktop FormFactor = "desktop"
	FormPhone   FormFactor = "phone"
)

type Type string

const (
	Impression Type = "impression"
	Click      Type = "click"
)

type Source string

const (
	SourceTopSites Source = "topsites"
	SourceSuggest  Source = "suggest"
)

// Document namespaces and types recognised by the classifier.
const (
	NamespaceDesktop          = "contextual-services"
	DocTopSitesImpression     = "topsites-impression"
	DocTopSitesClick          = "topsites-click"
	DocQuickSuggestImpression = "quicksuggest-impression"
	DocQuickSuggestClick      = "quicksuggest-click"
	EventContileImpression    = "contile_impression"
	EventContileClick         = "contile_click"
)

const (
	payloadContextID    = "context_id"
	payloadRequestID    = "request_id"
	mobileEventsPath    = "events"
	mobileEventNamePath = "events.0.name"
)

// SponsoredInteraction is a classified impression or click. ReportingURL is
// empty until the reporting URL has been validated.
type SponsoredInteraction struct {
	OriginalNamespace string     `json:"original_namespace"`
	OriginalDocType   string     `json:"original_doc_type"`
	FormFactor        FormFactor `json:"form_factor"`
	InteractionType   Type       `json:"interaction_type"`
	Source            Source     `json:"source"`
	ContextID         *string    `json:"context_id,omitempty"`
	RequestID         *string    `json:"request_id,omitempty"`
	ReportingURL      string     `json:"reporting_url,omitempty"`
}

type rowKey struct {
	namespace string
	docType   string
}

type row struct {
	interaction Type
	source      Source
	form        FormFactor
}

var desktopRows = map[rowKey]row{
	{NamespaceDesktop, DocTopSitesImpression}:     {Impression, SourceTopSites, FormDesktop},
	{NamespaceDesktop, DocTopSitesClick}:          {Click, SourceTopSites, FormDesktop},
	{NamespaceDesktop, DocQuickSuggestImpression}: {Impression, SourceSuggest, FormDesktop},
	{NamespaceDesktop, DocQuickSuggestClick}:      {Click, SourceSuggest, FormDesktop},
}

var mobileEvents = map[string]Type{
	EventContileImpression: Impression,
	EventContileClick:      Click,
}

// Classify maps a record's namespace, document type and payload onto an
// interaction. Any pair outside the table is rejected with
// *failure.InvalidAttributeError; a payload that is not a JSON object, or a
// mobile ping without exactly one event, is failure.ErrMalformedPayload.
func Classify(attrs event.Attributes, payload []byte) (SponsoredInteraction, error) {
	namespace, ok := attrs[event.AttrDocumentNamespace]
	if !ok {
		return SponsoredInteraction{}, &failure.InvalidAttributeError{
			Message: "missing required attribute " + event.AttrDocumentNamespace,
		}
	}
	docType, ok := attrs[event.AttrDocumentType]
	if !ok {
		return SponsoredInteraction{}, &failure.InvalidAttributeError{
			Message: "missing required attribute " + event.AttrDocumentType,
		}
	}
	if !gjson.ValidBytes(payload) {
		return SponsoredInteraction{}, failure.MalformedPayload("payload is not valid json")
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return SponsoredInteraction{}, failure.MalformedPayload("payload is not a json object")
	}

	r, err := lookupRow(namespace, docType, doc)
	if err != nil {
		return SponsoredInteraction{}, err
	}
	si := SponsoredInteraction{
		OriginalNamespace: namespace,
		OriginalDocType:   docType,
		FormFactor:        r.form,
		InteractionType:   r.interaction,
		Source:            r.source,
		ContextID:         stringField(doc, payloadContextID),
		RequestID:         stringField(doc, payloadRequestID),
	}
	return si, nil
}

func lookupRow(namespace, docType string, doc gjson.Result) (row, error) {
	if namespace == NamespaceDesktop {
		r, ok := desktopRows[rowKey{namespace, docType}]
		if !ok {
			return row{}, &failure.InvalidAttributeError{
				Message: "received unexpected docType: " + docType,
				Value:   docType,
			}
		}
		return r, nil
	}

	// any other namespace is a mobile ping; only topsites impressions exist there
	if docType != DocTopSitesImpression {
		return row{}, &failure.InvalidAttributeError{
			Message: "unexpected docType for mobile ping: " + docType,
			Value:   docType,
		}
	}
	events := doc.Get(mobileEventsPath)
	if !events.IsArray() || len(events.Array()) != 1 {
		return row{}, failure.MalformedPayload("expect exactly 1 event in ping, got %d", len(events.Array()))
	}
	name := doc.Get(mobileEventNamePath).String()
	typ, ok := mobileEvents[name]
	if !ok {
		return row{}, &failure.InvalidAttributeError{
			Message: fmt.Sprintf("received unexpected event name: %q", name),
			Value:   name,
		}
	}
	return row{interaction: typ, source: SourceTopSites, form: FormPhone}, nil
}

func stringField(doc gjson.Result, path string) *string {
	v := doc.Get(path)
	if v.Type != gjson.String {
		return nil
	}
	s := v.Str
	return &s
}
