package catalog

const (
	ModeChat  = "chat"
	ModeCode  = "code"
	ModeEmail = "email"

	TierBasic    = "basic"
	TierAdvanced = "advanced"
	TierPremium  = "premium"
)

const codeHelperPrompt = `You are a senior software engineer helping a user with programming questions.
Answer with working code first, then a short explanation. Prefer idiomatic solutions
for the language the user is writing in, point out bugs you notice, and keep answers
compact enough to read in a chat window.`

const emailWriterPrompt = `You draft emails for the user. Turn their notes into a complete email with a
subject line, greeting, body and sign-off. Match the tone they ask for (formal by
default), keep it concise, and never invent facts that are not in their notes.`

func defaultModes() []Mode {
	return []Mode{
		{ID: ModeChat, Command: "chat", Label: "💬 Free chat", Capability: CapabilityChat},
		{ID: ModeCode, Command: "code", Label: "🧑‍💻 Code helper", SystemPrompt: codeHelperPrompt, Capability: CapabilityChat},
		{ID: ModeEmail, Command: "email", Label: "✉️ Email writer", SystemPrompt: emailWriterPrompt, Capability: CapabilityChat},
	}
}

func defaultTiers() []Tier {
	return []Tier{
		{ID: TierBasic, Label: "Basic", Cost: 1, Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
		{ID: TierAdvanced, Label: "Advanced", Cost: 3, Provider: ProviderOpenAI, Model: "gpt-4o"},
		{ID: TierPremium, Label: "Premium", Cost: 5, Provider: ProviderOpenAI, Model: "gpt-4-turbo"},
	}
}

// Default returns the built-in catalog
func Default() (*Catalog, error) {
	return New(defaultModes(), defaultTiers(), TierBasic)
}
