package mesh

import "testing"

func TestBandFromRadioID(t *testing.T) {
	t.Parallel()

	if got := bandFromRadioID("RADIO_5GHz"); got != "5GHz" {
		t.Fatalf("got %q", got)
	}
	if got := bandFromRadioID("RADIO_2.4GHz"); got != "2.4GHz" {
		t.Fatalf("got %q", got)
	}
	// Unknown radios pass through so new bands still show up somewhere.
	if got := bandFromRadioID("RADIO_6GHz"); got != "RADIO_6GHz" {
		t.Fatalf("got %q", got)
	}
}

func TestParseSpeedtestResults_Empty(t *testing.T) {
	t.Parallel()

	if got := parseSpeedtestResults(&rawHealthCheckResults{}); got != nil {
		t.Fatalf("got %+v", got)
	}
}
