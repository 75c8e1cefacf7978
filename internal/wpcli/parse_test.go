package wpcli

import (
	"errors"
	"testing"

	"github.com/adamancini/wpguard/internal/types"
)

func TestParsePluginJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "plain",
			raw:  `[{"name":"akismet","status":"active","update":"none","version":"5.3"},{"name":"hello","status":"inactive","update":"available","version":"1.7.2"}]`,
			want: []string{"akismet", "hello"},
		},
		{
			name: "leading notice",
			raw:  "PHP Notice: Undefined index: foo in wp-config.php\n[{\"name\":\"akismet\",\"status\":\"active\"}]",
			want: []string{"akismet"},
		},
		{name: "empty array", raw: "[]", want: []string{}},
		{name: "truncated", raw: `[{"name":"akismet","sta`, wantErr: true},
		{name: "empty", raw: "  \n", wantErr: true},
		{name: "table instead", raw: "name\tstatus\nakismet\tactive\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePluginJSON(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePluginJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parsePluginJSON() = %d plugins, want %d", len(got), len(tt.want))
			}
			for i, name := range tt.want {
				if got[i].Name != name {
					t.Errorf("plugin[%d] = %q, want %q", i, got[i].Name, name)
				}
				if got[i].TestStatus != types.TestUntested {
					t.Errorf("plugin[%d] test status = %q, want untested", i, got[i].TestStatus)
				}
			}
		})
	}
}

func TestParsePluginJSONDefaults(t *testing.T) {
	got, err := parsePluginJSON(`[{"name":"net","status":"active-network","update":false}]`)
	if err != nil {
		t.Fatalf("parsePluginJSON() error = %v", err)
	}
	p := got[0]
	if p.Status != types.StatusActive {
		t.Errorf("Status = %q, want active", p.Status)
	}
	if p.Version != "unknown" {
		t.Errorf("Version = %q, want unknown", p.Version)
	}
	if p.Update != "false" {
		t.Errorf("Update = %q, want false", p.Update)
	}
}

func TestParsePluginTable(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Plugin
	}{
		{
			name: "tab separated",
			raw:  "name\tstatus\tupdate\tversion\nakismet\tactive\tnone\t5.3\nhello\tinactive\tavailable\t1.7.2\n",
			want: []Plugin{
				{Name: "akismet", Status: types.StatusActive, Update: "none", Version: "5.3"},
				{Name: "hello", Status: types.StatusInactive, Update: "available", Version: "1.7.2"},
			},
		},
		{
			name: "boxed",
			raw: "+---------+----------+--------+---------+\n" +
				"| name    | status   | update | version |\n" +
				"+---------+----------+--------+---------+\n" +
				"| akismet | active   | none   | 5.3     |\n" +
				"+---------+----------+--------+---------+\n",
			want: []Plugin{{Name: "akismet", Status: types.StatusActive, Update: "none", Version: "5.3"}},
		},
		{
			name: "no header, short rows",
			raw:  "akismet active\nlonely\nmu-thing must-use\n",
			want: []Plugin{
				{Name: "akismet", Status: types.StatusActive, Update: "none", Version: "unknown"},
				{Name: "mu-thing", Status: types.StatusMustUse, Update: "none", Version: "unknown"},
			},
		},
		{
			name: "success banner",
			raw:  "name\tstatus\nakismet\tdropin\nSuccess: listed\n",
			want: []Plugin{{Name: "akismet", Status: types.StatusUnknown, Update: "none", Version: "unknown"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePluginTable(tt.raw)
			if err != nil {
				t.Fatalf("parsePluginTable() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parsePluginTable() = %+v, want %d plugins", got, len(tt.want))
			}
			for i, w := range tt.want {
				g := got[i]
				if g.Name != w.Name || g.Status != w.Status || g.Update != w.Update || g.Version != w.Version {
					t.Errorf("plugin[%d] = %+v, want %+v", i, g, w)
				}
			}
		})
	}
}

func TestParsePluginTableEmpty(t *testing.T) {
	if _, err := parsePluginTable(""); !errors.Is(err, errEmptyOutput) {
		t.Errorf("parsePluginTable(\"\") error = %v, want errEmptyOutput", err)
	}
}

func TestParseSearch(t *testing.T) {
	got, err := parseSearchJSON(`[{"name":"Yoast SEO","slug":"wordpress-seo","rating":96,"short_description":"SEO"},{"name":"","slug":"bare"}]`)
	if err != nil {
		t.Fatalf("parseSearchJSON() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("parseSearchJSON() = %d results, want 2", len(got))
	}
	if got[0].Rating != "96" || got[0].Description != "SEO" {
		t.Errorf("result[0] = %+v", got[0])
	}
	if got[1].Name != "bare" || got[1].Rating != "N/A" {
		t.Errorf("result[1] = %+v, want name and N/A rating defaults", got[1])
	}

	table, err := parseSearchTable("name\tslug\trating\nYoast SEO\twordpress-seo\t96\nRank Math  seo-by-rank-math\n")
	if err != nil {
		t.Fatalf("parseSearchTable() error = %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("parseSearchTable() = %+v", table)
	}
	if table[0].Name != "Yoast SEO" || table[0].Slug != "wordpress-seo" || table[0].Rating != "96" {
		t.Errorf("row[0] = %+v", table[0])
	}
	if table[1].Name != "Rank Math" || table[1].Slug != "seo-by-rank-math" || table[1].Rating != "N/A" {
		t.Errorf("row[1] = %+v", table[1])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		output string
		want   OutcomeKind
	}{
		{"Plugin 'x' activated.\nSuccess: Activated 1 of 1 plugins.", OutcomeOK},
		{"Warning: Plugin 'x' is already active.", OutcomeAlreadyInState},
		{"Warning: Plugin 'x' is ALREADY ACTIVE.", OutcomeAlreadyInState},
		{"Error: Plugin file does not exist.", OutcomeFailed},
		{"", OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := classify(tt.output, "already active"); got != tt.want {
				t.Errorf("classify(%q) = %v, want %v", tt.output, got, tt.want)
			}
		})
	}
}

func TestOutcomeErr(t *testing.T) {
	if err := outcome(OutcomeAlreadyInState, "ok").Err(); err != nil {
		t.Errorf("AlreadyInState.Err() = %v, want nil", err)
	}
	err := failed(nil, "failed to activate plugin %s: %s", "x", "Error: boom").Err()
	if !IsRejected(err) {
		t.Fatalf("Err() = %v, want MutationRejectedError", err)
	}
	if err.Error() != "failed to activate plugin x: Error: boom" {
		t.Errorf("Err().Error() = %q", err.Error())
	}
}
