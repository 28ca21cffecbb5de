package ffmpeg

import "testing"

func TestParseProgressLine(t *testing.T) {
	cases := []struct {
		line  string
		total float64
		pct   int
		ok    bool
	}{
		// out_time_ms的单位实际是微秒
		{"out_time_ms=30000000", 60, 50, true},
		{"out_time_ms=60000000", 60, 100, true},
		{"out_time_ms=90000000", 60, 100, true},
		{"out_time=00:00:30.000000", 60, 50, true},
		{"out_time=01:00:00.000000", 7200, 50, true},
		{"progress=end", 60, 100, true},
		{"progress=end", 0, 100, true},
		{"progress=continue", 60, 0, false},
		{"frame=120", 60, 0, false},
		{"out_time_ms=abc", 60, 0, false},
		{"out_time_ms=-5", 60, 0, false},
		{"out_time=bogus", 60, 0, false},
		// 时长未知时无法换算百分比
		{"out_time_ms=30000000", 0, 0, false},
		{"", 60, 0, false},
	}

	for _, tc := range cases {
		pct, ok := parseProgressLine(tc.line, tc.total)
		if ok != tc.ok || pct != tc.pct {
			t.Errorf("parseProgressLine(%q, %v) = (%d, %v), 期望 (%d, %v)",
				tc.line, tc.total, pct, ok, tc.pct, tc.ok)
		}
	}
}

func TestTimeToSeconds(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"00:00:30.000000", 30},
		{"00:01:30.500000", 90.5},
		{"01:00:00.000000", 3600},
		{"02:30:15.000000", 9015},
		{" 00:00:01.000000 ", 1},
		{"bogus", -1},
		{"00:30", -1},
		{"aa:bb:cc", -1},
	}

	for _, tc := range cases {
		if got := timeToSeconds(tc.in); got != tc.want {
			t.Errorf("timeToSeconds(%q) = %v, 期望 %v", tc.in, got, tc.want)
		}
	}
}
