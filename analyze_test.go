package bind_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/bind"
)

func TestAnalyze_locations(t *testing.T) {
	t.Parallel()

	type Req struct {
		ID     string            `path:"id"`
		Page   int               `query:"page" default:"1"`
		Host   string            `header:"Host"`
		Token  string            `cookie:"session"`
		Body   map[string]any    `body:"json"`
		Extras map[string]string `query:",group,raw"`
	}

	_, err := bind.AnalyzeFor[Req]()
	require.Error(t, err) // group + per-key on the same location

	type OK struct {
		ID   string         `path:"id"`
		Page int            `query:"page" default:"1"`
		Host string         `header:"Host"`
		Body map[string]any `body:"json"`
	}

	s, err := bind.AnalyzeFor[OK]()
	require.NoError(t, err)

	f, ok := s.Lookup("ID")
	require.True(t, ok)
	assert.Equal(t, bind.LocationPath, f.Location)
	assert.Equal(t, "id", f.Alias)

	f, ok = s.Lookup("Page")
	require.True(t, ok)
	assert.True(t, f.HasDefault)
	assert.Equal(t, 1, f.Default)

	f, ok = s.Lookup("Body")
	require.True(t, ok)
	assert.Equal(t, bind.BodyJSON, f.BodyKind)
	assert.Equal(t, "application/json", f.ContentType)
	assert.True(t, f.CheckContentType)
}

func TestAnalyze_bodyKindInference(t *testing.T) {
	t.Parallel()

	type Req struct {
		Text string `body:""`
	}
	s, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)
	f, _ := s.Lookup("Text")
	assert.Equal(t, bind.BodyText, f.BodyKind)

	type Bytes struct {
		Data []byte `body:""`
	}
	s, err = bind.AnalyzeFor[Bytes]()
	require.NoError(t, err)
	f, _ = s.Lookup("Data")
	assert.Equal(t, bind.BodyBytes, f.BodyKind)
	assert.True(t, f.Raw)

	type Stream struct {
		R io.Reader `body:""`
	}
	s, err = bind.AnalyzeFor[Stream]()
	require.NoError(t, err)
	f, _ = s.Lookup("R")
	assert.Equal(t, bind.BodyStream, f.BodyKind)

	type JSON struct {
		Payload struct{ X int } `body:""`
	}
	s, err = bind.AnalyzeFor[JSON]()
	require.NoError(t, err)
	f, _ = s.Lookup("Payload")
	assert.Equal(t, bind.BodyJSON, f.BodyKind)
}

func TestAnalyze_definitionErrors(t *testing.T) {
	t.Parallel()

	type pathDefault struct {
		ID string `path:"id" default:"1"`
	}
	type dupAlias struct {
		A string `query:"q"`
		B string `query:"q"`
	}
	type dupBody struct {
		A map[string]any `body:"json"`
		B string         `body:"text"`
	}
	type dupRaw struct {
		A bind.RawRequest
		B bind.RawRequest
	}
	type optionalPath struct {
		ID *string `path:"id"`
	}
	type badPattern struct {
		Name string `query:"name" pattern:"["`
	}
	type badBound struct {
		N int `query:"n" minimum:"abc"`
	}
	type badKind struct {
		B string `body:"yaml"`
	}
	type twoLocations struct {
		V string `query:"v" header:"V"`
	}
	type groupPath struct {
		All map[string]string `path:",group"`
	}

	tests := map[string]func() error{
		"default on path param": func() error {
			_, err := bind.AnalyzeFor[pathDefault]()
			return err
		},
		"duplicate alias": func() error {
			_, err := bind.AnalyzeFor[dupAlias]()
			return err
		},
		"duplicate body": func() error {
			_, err := bind.AnalyzeFor[dupBody]()
			return err
		},
		"duplicate raw request receiver": func() error {
			_, err := bind.AnalyzeFor[dupRaw]()
			return err
		},
		"optional path param": func() error {
			_, err := bind.AnalyzeFor[optionalPath]()
			return err
		},
		"invalid pattern": func() error {
			_, err := bind.AnalyzeFor[badPattern]()
			return err
		},
		"invalid bound": func() error {
			_, err := bind.AnalyzeFor[badBound]()
			return err
		},
		"unknown body kind": func() error {
			_, err := bind.AnalyzeFor[badKind]()
			return err
		},
		"two locations on one field": func() error {
			_, err := bind.AnalyzeFor[twoLocations]()
			return err
		},
		"whole-path group binding": func() error {
			_, err := bind.AnalyzeFor[groupPath]()
			return err
		},
	}

	for name, run := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := run()
			require.Error(t, err)
			var de *bind.DefinitionError
			require.ErrorAs(t, err, &de)
		})
	}
}

func TestAnalyze_streamBodyDefault(t *testing.T) {
	t.Parallel()

	type Req struct {
		R io.Reader `body:"stream"`
	}

	_, err := bind.AnalyzeFor[Req](bind.WithDefaultFactory("R", func() any { return nil }))
	require.Error(t, err)
	var de *bind.DefinitionError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Reason, "streaming body")
}

func TestAnalyze_defaultFactoryConflict(t *testing.T) {
	t.Parallel()

	type Req struct {
		Page int `query:"page" default:"1"`
	}

	_, err := bind.AnalyzeFor[Req](bind.WithDefaultFactory("Page", func() any { return 2 }))
	require.Error(t, err)
	var de *bind.DefinitionError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Reason, "both a default and a default factory")
}

func TestAnalyze_optionDefaultFactoryConflict(t *testing.T) {
	t.Parallel()

	type Req struct {
		Page int `query:"page"`
	}

	_, err := bind.AnalyzeFor[Req](
		bind.WithFieldDefault("Page", 7),
		bind.WithDefaultFactory("Page", func() any { return 2 }),
	)
	require.Error(t, err)
	var de *bind.DefinitionError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Reason, "both a default and a default factory")
}

func TestAnalyze_callSiteDefaultWins(t *testing.T) {
	t.Parallel()

	type Req struct {
		Page int `query:"page" default:"1"`
	}

	s, err := bind.AnalyzeFor[Req](bind.WithFieldDefault("Page", 7))
	require.NoError(t, err)

	f, _ := s.Lookup("Page")
	assert.Equal(t, 7, f.Default)
}

func TestAnalyze_unknownFieldOption(t *testing.T) {
	t.Parallel()

	type Req struct {
		Page int `query:"page"`
	}

	_, err := bind.AnalyzeFor[Req](bind.WithFieldDefault("Missing", 1))
	require.Error(t, err)
}

func TestAnalyze_cachedPerType(t *testing.T) {
	t.Parallel()

	type Req struct {
		ID string `path:"id"`
	}

	a, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)
	b, err := bind.AnalyzeFor[Req]()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestAnalyze_nonStruct(t *testing.T) {
	t.Parallel()

	_, err := bind.AnalyzeFor[string]()
	require.Error(t, err)
}
