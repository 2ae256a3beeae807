package ingress_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/lexfrei/kube-ingress-proxy/internal/ingress"
)

func strPtr(s string) *string {
	return &s
}

func pathTypePtr(p networkingv1.PathType) *networkingv1.PathType {
	return &p
}

func serviceBackend(name string, port int32) networkingv1.IngressBackend {
	return networkingv1.IngressBackend{
		Service: &networkingv1.IngressServiceBackend{
			Name: name,
			Port: networkingv1.ServiceBackendPort{Number: port},
		},
	}
}

func httpPath(path string, pathType networkingv1.PathType, backend networkingv1.IngressBackend) networkingv1.HTTPIngressPath {
	return networkingv1.HTTPIngressPath{
		Path:     path,
		PathType: pathTypePtr(pathType),
		Backend:  backend,
	}
}

func newIngress(name string, class *string, rules ...networkingv1.IngressRule) *networkingv1.Ingress {
	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: class,
			Rules:            rules,
		},
	}
}

func hostRule(host string, paths ...networkingv1.HTTPIngressPath) networkingv1.IngressRule {
	return networkingv1.IngressRule{
		Host: host,
		IngressRuleValue: networkingv1.IngressRuleValue{
			HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
		},
	}
}

func TestParsePathType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected ingress.PathType
	}{
		{input: "Prefix", expected: ingress.PathTypePrefix},
		{input: "prefix", expected: ingress.PathTypePrefix},
		{input: "EXACT", expected: ingress.PathTypeExact},
		{input: "ImplementationSpecific", expected: ingress.PathTypeImplementationSpecific},
		{input: "implementationspecific", expected: ingress.PathTypeImplementationSpecific},
		{input: "Regex", expected: ingress.PathTypeUnknown},
		{input: "", expected: ingress.PathTypeUnknown},
	}

	for _, testCase := range tests {
		t.Run(testCase.input, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, ingress.ParsePathType(testCase.input))
		})
	}
}

func TestNewDecoder_DefaultClass(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ingress.DefaultIngressClass, ingress.NewDecoder("").Class)
	assert.Equal(t, "custom", ingress.NewDecoder("custom").Class)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	defaultBackend := serviceBackend("fallback", 0)

	withDefault := newIngress("with-default", nil)
	withDefault.Spec.DefaultBackend = &defaultBackend

	withTLS := newIngress("with-tls", strPtr("pingora"),
		hostRule("secure.example.com", httpPath("/", networkingv1.PathTypePrefix, serviceBackend("web", 443))),
	)
	withTLS.Spec.TLS = []networkingv1.IngressTLS{
		{Hosts: []string{"secure.example.com", "alt.example.com"}, SecretName: "secure-cert"},
		{Hosts: []string{"nosecret.example.com"}},
	}

	resourceBackend := networkingv1.IngressBackend{Resource: nil}

	tests := []struct {
		name     string
		obj      *networkingv1.Ingress
		expected ingress.Contribution
	}{
		{
			name:     "nil object",
			obj:      nil,
			expected: ingress.Contribution{SNI: ingress.SNIMap{}},
		},
		{
			name: "other ingress class is dropped",
			obj: newIngress("nginx", strPtr("nginx"),
				hostRule("app.example.com", httpPath("/", networkingv1.PathTypePrefix, serviceBackend("app", 80))),
			),
			expected: ingress.Contribution{SNI: ingress.SNIMap{}},
		},
		{
			name: "prefix and exact rules",
			obj: newIngress("app", strPtr("pingora"),
				hostRule("app.example.com",
					httpPath("/api/", networkingv1.PathTypePrefix, serviceBackend("api", 8080)),
					httpPath("/health", networkingv1.PathTypeExact, serviceBackend("health", 0)),
				),
			),
			expected: ingress.Contribution{
				Hosts: []ingress.HostBlock{
					{
						Host: "app.example.com",
						Rules: []ingress.Rule{
							{Path: "/api/", Kind: ingress.PathTypePrefix, Backend: "api", Port: 8080},
							{Path: "/health", Kind: ingress.PathTypeExact, Backend: "health", Port: 80},
						},
					},
				},
				SNI: ingress.SNIMap{},
			},
		},
		{
			name: "class unset is accepted",
			obj: newIngress("classless", nil,
				hostRule("", httpPath("/", networkingv1.PathTypeImplementationSpecific, serviceBackend("any", 81))),
			),
			expected: ingress.Contribution{
				Hosts: []ingress.HostBlock{
					{
						Host: "",
						Rules: []ingress.Rule{
							{Path: "/", Kind: ingress.PathTypeImplementationSpecific, Backend: "any", Port: 81},
						},
					},
				},
				SNI: ingress.SNIMap{},
			},
		},
		{
			name: "paths without service and empty hosts are dropped",
			obj: newIngress("partial", nil,
				hostRule("empty.example.com", httpPath("/", networkingv1.PathTypePrefix, resourceBackend)),
				hostRule("kept.example.com",
					httpPath("/a", networkingv1.PathTypePrefix, resourceBackend),
					httpPath("/b", networkingv1.PathTypePrefix, serviceBackend("b", 9000)),
				),
				networkingv1.IngressRule{Host: "nohttp.example.com"},
			),
			expected: ingress.Contribution{
				Hosts: []ingress.HostBlock{
					{
						Host: "kept.example.com",
						Rules: []ingress.Rule{
							{Path: "/b", Kind: ingress.PathTypePrefix, Backend: "b", Port: 9000},
						},
					},
				},
				SNI: ingress.SNIMap{},
			},
		},
		{
			name: "default backend",
			obj:  withDefault,
			expected: ingress.Contribution{
				DefaultBackend: &ingress.Rule{Path: "", Kind: ingress.PathTypePrefix, Backend: "fallback", Port: 80},
				SNI:            ingress.SNIMap{},
			},
		},
		{
			name: "tls secrets",
			obj:  withTLS,
			expected: ingress.Contribution{
				Hosts: []ingress.HostBlock{
					{
						Host: "secure.example.com",
						Rules: []ingress.Rule{
							{Path: "/", Kind: ingress.PathTypePrefix, Backend: "web", Port: 443},
						},
					},
				},
				SNI: ingress.SNIMap{
					"secure.example.com": "secure-cert",
					"alt.example.com":    "secure-cert",
				},
			},
		},
	}

	decoder := ingress.NewDecoder(ingress.DefaultIngressClass)

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := decoder.Decode(testCase.obj)

			if diff := cmp.Diff(testCase.expected, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_MissingPathType(t *testing.T) {
	t.Parallel()

	obj := newIngress("no-type", nil, hostRule("app.example.com", networkingv1.HTTPIngressPath{
		Path:    "/x",
		Backend: serviceBackend("x", 80),
	}))

	got := ingress.NewDecoder("").Decode(obj)

	require.Len(t, got.Hosts, 1)
	require.Len(t, got.Hosts[0].Rules, 1)
	assert.Equal(t, ingress.PathTypeUnknown, got.Hosts[0].Rules[0].Kind)
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	decoder := ingress.NewDecoder(ingress.DefaultIngressClass)

	app := newIngress("app", strPtr("pingora"),
		hostRule("app.example.com", httpPath("/", networkingv1.PathTypePrefix, serviceBackend("app", 80))),
	)

	t.Run("applied maps to update", func(t *testing.T) {
		t.Parallel()

		event := decoder.DecodeEvent(ingress.RawEvent{Type: ingress.RawApplied, Objects: []*networkingv1.Ingress{app}})

		assert.Equal(t, ingress.EventUpdate, event.Kind)
		require.Len(t, event.Hosts, 1)
		assert.Equal(t, "app.example.com", event.Hosts[0].Host)
	})

	t.Run("deleted maps to delete", func(t *testing.T) {
		t.Parallel()

		event := decoder.DecodeEvent(ingress.RawEvent{Type: ingress.RawDeleted, Objects: []*networkingv1.Ingress{app}})

		assert.Equal(t, ingress.EventDelete, event.Kind)
		require.Len(t, event.Hosts, 1)
	})

	t.Run("applied without objects is empty", func(t *testing.T) {
		t.Parallel()

		event := decoder.DecodeEvent(ingress.RawEvent{Type: ingress.RawApplied})

		assert.Equal(t, ingress.EventUpdate, event.Kind)
		assert.True(t, event.IsEmpty())
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()

		event := decoder.DecodeEvent(ingress.RawEvent{Type: "Bookmark"})

		assert.Equal(t, ingress.EventUnknown, event.Kind)
		assert.True(t, event.IsEmpty())
	})
}

func TestDecodeEvent_RestartedMergesAndFiltersClass(t *testing.T) {
	t.Parallel()

	firstDefault := serviceBackend("first-default", 8080)
	lastDefault := serviceBackend("last-default", 9090)

	pingora := newIngress("pingora", strPtr("pingora"),
		hostRule("a.example.com", httpPath("/", networkingv1.PathTypePrefix, serviceBackend("a", 80))),
	)
	pingora.Spec.DefaultBackend = &firstDefault
	pingora.Spec.TLS = []networkingv1.IngressTLS{{Hosts: []string{"a.example.com"}, SecretName: "a-cert"}}

	nginx := newIngress("nginx", strPtr("nginx"),
		hostRule("n.example.com", httpPath("/", networkingv1.PathTypePrefix, serviceBackend("n", 80))),
	)
	nginx.Spec.DefaultBackend = &lastDefault
	nginx.Spec.TLS = []networkingv1.IngressTLS{{Hosts: []string{"n.example.com"}, SecretName: "n-cert"}}

	classless := newIngress("classless", nil,
		hostRule("b.example.com", httpPath("/b", networkingv1.PathTypeExact, serviceBackend("b", 80))),
	)

	event := ingress.NewDecoder(ingress.DefaultIngressClass).DecodeEvent(ingress.RawEvent{
		Type:    ingress.RawRestarted,
		Objects: []*networkingv1.Ingress{pingora, nginx, classless},
	})

	assert.Equal(t, ingress.EventInit, event.Kind)
	require.NotNil(t, event.DefaultBackend)
	assert.Equal(t, "first-default", event.DefaultBackend.Backend, "filtered ingress must not replace the default")

	hosts := make([]string, 0, len(event.Hosts))
	for _, block := range event.Hosts {
		hosts = append(hosts, block.Host)
	}

	assert.Equal(t, []string{"a.example.com", "b.example.com"}, hosts)
	assert.Equal(t, ingress.SNIMap{"a.example.com": "a-cert"}, event.SNI)
}

func TestDecodeEvent_RestartedLastDefaultWins(t *testing.T) {
	t.Parallel()

	first := serviceBackend("first", 80)
	second := serviceBackend("second", 80)

	one := newIngress("one", nil)
	one.Spec.DefaultBackend = &first

	two := newIngress("two", nil)
	two.Spec.DefaultBackend = &second

	three := newIngress("three", nil)

	event := ingress.NewDecoder("").DecodeEvent(ingress.RawEvent{
		Type:    ingress.RawRestarted,
		Objects: []*networkingv1.Ingress{one, two, three},
	})

	require.NotNil(t, event.DefaultBackend)
	assert.Equal(t, "second", event.DefaultBackend.Backend)
}

func TestEventSummary(t *testing.T) {
	t.Parallel()

	event := ingress.Event{
		Kind: ingress.EventUpdate,
		Contribution: ingress.Contribution{
			DefaultBackend: &ingress.Rule{Backend: "fallback", Port: 80},
			Hosts: []ingress.HostBlock{
				{Host: "app.example.com", Rules: []ingress.Rule{{Path: "/"}}},
			},
			SNI: ingress.SNIMap{"app.example.com": "cert"},
		},
	}

	assert.Equal(t, `kind=update default=fallback:80 hosts=["app.example.com"(1)] sni=1`, event.Summary())
}

func TestStringers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "init", ingress.EventInit.String())
	assert.Equal(t, "delete", ingress.EventDelete.String())
	assert.Equal(t, "EventKind(9)", ingress.EventKind(9).String())
	assert.Equal(t, "Prefix", ingress.PathTypePrefix.String())
	assert.Equal(t, "PathType(7)", ingress.PathType(7).String())
}
