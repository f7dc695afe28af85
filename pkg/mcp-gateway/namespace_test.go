package mcpgateway

import "testing"

func TestServerPrefixNamespace(t *testing.T) {
	if got := (ServerPrefixNamespace{}).ToolName("mcp_todayinfo", "get_date"); got != "mcp_todayinfo__get_date" {
		t.Fatalf("default separator: got %q", got)
	}
	if got := (ServerPrefixNamespace{Separator: "-"}).ToolName("alpha", "echo"); got != "alpha-echo" {
		t.Fatalf("custom separator: got %q", got)
	}
}

func TestQualifiedNamespace(t *testing.T) {
	if got := (QualifiedNamespace{}).ToolName("alpha", "echo"); got != "alpha.echo" {
		t.Fatalf("got %q", got)
	}
}

func TestNamespaceByName(t *testing.T) {
	for name, want := range map[string]string{"": "alpha__echo", "prefix": "alpha__echo", "qualified": "alpha.echo"} {
		ns, err := NamespaceByName(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if got := ns.ToolName("alpha", "echo"); got != want {
			t.Fatalf("%q: got %q, want %q", name, got, want)
		}
	}
	if _, err := NamespaceByName("flat"); err == nil {
		t.Fatal("expected an error for an unknown namespace")
	}
}
