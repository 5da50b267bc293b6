package app

import "github.com/charmbracelet/lipgloss"

const (
	chatBubblePaddingVertical   = 0
	chatBubblePaddingHorizontal = 1
)

var (
	headerStyle                 = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	subtitleStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	helpStyle                   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle                 = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusErrorStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	activityStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Bold(true)
	sessionStyle                = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	activeSessionStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	selectedStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("236"))
	dividerStyle                = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	focusedHeaderStyle          = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")).Underline(true)
	userBubbleStyle             = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Background(lipgloss.Color("236")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	agentBubbleStyle            = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	toolCardStyle               = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("237")).Foreground(lipgloss.Color("250")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	approvalBubbleStyle         = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("179")).Foreground(lipgloss.Color("230")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	approvalResolvedBubbleStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("108")).Foreground(lipgloss.Color("251")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	approvalFailedBubbleStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("203")).Foreground(lipgloss.Color("230")).Padding(chatBubblePaddingVertical, chatBubblePaddingHorizontal)
	chatMetaStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Faint(true)
	toolRunningStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("179")).Bold(true)
	toolDoneStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("70")).Bold(true)
	toolErrorStyle              = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	approveButtonStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("70")).Bold(true).Underline(true)
	retryButtonStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true).Underline(true)
	clearButtonStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Underline(true)
	emptyCanvasStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	toastInfoStyle              = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("29")).Bold(true)
	toastErrorStyle             = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("160")).Bold(true)
)
