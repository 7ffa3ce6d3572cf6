package search

// Index settings and mappings.
//
// Two analyzers per index: "autocomplete" feeds the suggestion dropdown
// with edge n-grams of every word, and "text_analyzer" indexes natural
// language both verbatim and stemmed. keyword_repeat duplicates each
// token before stemming and unique_stem drops the copy when stemming
// changed nothing, so "contain", "containing" and an exact quote all hit.

func analysisSettings(language string) map[string]any {
	filter := map[string]any{
		"autocomplete_filter": map[string]any{
			"type":     "edge_ngram",
			"min_gram": 1,
			"max_gram": 20,
		},
		"stop": map[string]any{
			"type":      "stop",
			"stopwords": "_" + language + "_",
		},
		"stemmer": map[string]any{
			"type":     "stemmer",
			"language": language,
		},
		"unique_stem": map[string]any{
			"type":                  "unique",
			"only_on_same_position": true,
		},
	}
	textFilters := []string{"keyword_repeat", "lowercase", "stop", "stemmer", "unique_stem"}
	if language == "english" {
		filter["english_possessive_stemmer"] = map[string]any{
			"type":     "stemmer",
			"language": "possessive_english",
		}
		textFilters = []string{"keyword_repeat", "english_possessive_stemmer", "lowercase", "stop", "stemmer", "unique_stem"}
	}

	return map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 0,
		"analysis": map[string]any{
			"filter": filter,
			"analyzer": map[string]any{
				"autocomplete": map[string]any{
					"type":      "custom",
					"tokenizer": "standard",
					"filter":    []string{"lowercase", "autocomplete_filter"},
				},
				"text_analyzer": map[string]any{
					"type":      "custom",
					"tokenizer": "standard",
					"filter":    textFilters,
				},
			},
		},
	}
}

func indexDefinition(kind, language string) map[string]any {
	return map[string]any{
		"settings": analysisSettings(language),
		"mappings": map[string]any{"properties": kindProperties(kind)},
	}
}

func kindProperties(kind string) map[string]any {
	text := map[string]any{"type": "text", "analyzer": "text_analyzer"}
	date := map[string]any{"type": "date"}
	integer := map[string]any{"type": "integer"}
	keyword := map[string]any{"type": "keyword"}
	autocomplete := map[string]any{
		"type":            "text",
		"analyzer":        "autocomplete",
		"search_analyzer": "standard",
	}

	props := map[string]any{
		"autocomplete": autocomplete,
		"name":         text,
		"created":      date,
		"modified":     date,
		"sort_date":    date,
	}
	switch kind {
	case KindFile:
		props["filename"] = keyword
		props["page_count"] = integer
		props["person_ids"] = integer
		props["coordinates"] = map[string]any{"type": "geo_point"}
		// The highlighter needs offsets for large parsed texts.
		props["parsed_text"] = map[string]any{
			"type":          "text",
			"analyzer":      "text_analyzer",
			"index_options": "offsets",
		}
	case KindPaper:
		props["short_name"] = text
		props["reference_number"] = keyword
		props["legal_date"] = date
		props["main_file"] = integer
		props["person_ids"] = integer
		props["organization_ids"] = integer
	case KindPerson:
		props["given_name"] = text
		props["family_name"] = text
		props["organization_ids"] = integer
	case KindMeeting:
		props["short_name"] = text
		props["start"] = date
		props["end"] = date
		props["location"] = map[string]any{"type": "geo_point"}
		props["agenda_items"] = map[string]any{
			"type": "nested",
			"properties": map[string]any{
				"key":      keyword,
				"title":    text,
				"position": integer,
				"public":   map[string]any{"type": "boolean"},
			},
		}
	case KindOrganization:
		props["short_name"] = text
		props["start"] = date
		props["end"] = date
		props["body"] = map[string]any{
			"properties": map[string]any{
				"id":   integer,
				"name": text,
			},
		}
	}
	return props
}
